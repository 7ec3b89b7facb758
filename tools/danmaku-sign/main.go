package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chen-zeong/dtv/internal/bilibili"
	"github.com/chen-zeong/dtv/internal/douyin"
	"github.com/chen-zeong/dtv/internal/douyu"
	"github.com/chen-zeong/dtv/internal/huya"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/session"
	"github.com/chen-zeong/dtv/internal/signature"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "danmaku-sign",
		Short:        "Compute platform signatures and resolve rooms by hand",
		SilenceUsage: true,
	}
	root.AddCommand(
		newABogusCmd(),
		newAntiCodeCmd(),
		newWBICmd(),
		newCookiesCmd(),
		newResolveCmd(),
	)
	return root
}

func newABogusCmd() *cobra.Command {
	var ua, query string
	var pushRoom string
	cmd := &cobra.Command{
		Use:   "abogus",
		Short: "Sign a douyin query with a_bogus, or print a signed push URL with --push-room",
		RunE: func(cmd *cobra.Command, args []string) error {
			signer := signature.NewABogus(ua)
			if pushRoom != "" {
				q := douyin.PushQuery{RoomID: pushRoom, UserAgent: ua, Now: time.Now()}
				fmt.Fprintln(cmd.OutOrStdout(), douyin.PushURL(q, signer.Sign))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), signer.Sign(query))
			return nil
		},
	}
	cmd.Flags().StringVar(&ua, "ua", session.DefaultUserAgent, "user agent the signature is bound to")
	cmd.Flags().StringVar(&query, "query", "", "raw query string to sign")
	cmd.Flags().StringVar(&pushRoom, "push-room", "", "numeric douyin room id")
	return cmd
}

func newAntiCodeCmd() *cobra.Command {
	var stream, code string
	cmd := &cobra.Command{
		Use:   "anticode",
		Short: "Rewrite a huya anti-code query for a stream name",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := (&signature.AntiCode{}).Rewrite(stream, code)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "", "stream name")
	cmd.Flags().StringVar(&code, "code", "", "anti-code query as served by the room page")
	cmd.MarkFlagRequired("stream")
	cmd.MarkFlagRequired("code")
	return cmd
}

func newWBICmd() *cobra.Command {
	var imgKey, subKey string
	var wts int64
	cmd := &cobra.Command{
		Use:   "wbi <query>",
		Short: "Add wts and w_rid to a bilibili query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := url.ParseQuery(args[0])
			if err != nil {
				return fmt.Errorf("parse query: %w", err)
			}
			w := &signature.WBI{ImgKey: signature.KeyFromURL(imgKey), SubKey: signature.KeyFromURL(subKey)}
			if wts > 0 {
				w.Now = func() time.Time { return time.Unix(wts, 0) }
			}
			signed, err := w.Sign(q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed.Encode())
			return nil
		},
	}
	cmd.Flags().StringVar(&imgKey, "img", "", "wbi img_url or key")
	cmd.Flags().StringVar(&subKey, "sub", "", "wbi sub_url or key")
	cmd.Flags().Int64Var(&wts, "wts", 0, "fixed unix timestamp (default now)")
	return cmd
}

func newCookiesCmd() *cobra.Command {
	var ua string
	var allow []string
	cmd := &cobra.Command{
		Use:   "cookies <url>",
		Short: "Print the anonymous visitor cookies a site sets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := &signature.CookieHarvester{
				Client:    session.HTTPClient(0),
				UserAgent: ua,
				AllowList: allow,
			}
			jar, err := h.Harvest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jar.Header())
			return nil
		},
	}
	cmd.Flags().StringVar(&ua, "ua", session.DefaultUserAgent, "user agent")
	cmd.Flags().StringSliceVar(&allow, "allow", nil, "keep only cookies containing one of these names")
	return cmd
}

func bootstrapperFor(p message.Platform) session.Bootstrapper {
	switch p {
	case message.Douyu:
		return &douyu.Bootstrapper{}
	case message.Huya:
		return &huya.Bootstrapper{}
	case message.Douyin:
		return &douyin.Bootstrapper{Cookie: os.Getenv("DOUYIN_COOKIE")}
	case message.Bilibili:
		return &bilibili.Bootstrapper{Cookie: os.Getenv("BILIBILI_COOKIE")}
	}
	return nil
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <platform> <room> [room...]",
		Short: "Bootstrap rooms and print the sessions a listener would use",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := message.ParsePlatform(args[0])
			if err != nil {
				return err
			}
			return resolveRooms(cmd.Context(), cmd.OutOrStdout(), bootstrapperFor(p), p, args[1:])
		},
	}
}

func resolveRooms(ctx context.Context, out io.Writer, boot session.Bootstrapper, p message.Platform, rooms []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintf(out, "Resolving %d %s room(s)...\n\n", len(rooms), p)

	var resolved []*session.RoomSession
	failed := make(map[string]string)
	for _, room := range rooms {
		s, err := session.Bootstrap(ctx, boot, room)
		if err != nil {
			failed[room] = err.Error()
			continue
		}
		resolved = append(resolved, s)
	}

	if len(resolved) > 0 {
		fmt.Fprintln(out, "✓ Successfully resolved:")
		fmt.Fprintln(out, "---")
		for _, s := range resolved {
			fmt.Fprintf(out, "%s\n", s.RoomID)
			if s.Endpoint != "" {
				fmt.Fprintf(out, "  endpoint: %s\n", s.Endpoint)
			}
			names := make([]string, 0, len(s.Tokens))
			for k := range s.Tokens {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				fmt.Fprintf(out, "  %s: %s\n", k, s.Tokens[k])
			}
			if s.Cookies != "" {
				fmt.Fprintf(out, "  cookies: %s\n", s.Cookies)
			}
		}
		fmt.Fprintln(out)
	}

	if len(failed) > 0 {
		fmt.Fprintln(out, "✗ Failed to resolve:")
		fmt.Fprintln(out, "---")
		for room, err := range failed {
			fmt.Fprintf(out, "%s: %s\n", room, err)
		}
		fmt.Fprintln(out)
	}

	// Print YAML config snippet
	if len(resolved) > 0 {
		fmt.Fprintln(out, "Add this to your config.yaml:")
		fmt.Fprintln(out, "---")
		fmt.Fprintln(out, "rooms:")
		for _, s := range resolved {
			fmt.Fprintf(out, "  - platform: %s\n", p)
			fmt.Fprintf(out, "    room: %q\n", s.RoomID)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("%d of %d room(s) failed: %s", len(failed), len(rooms), strings.Join(sortedKeys(failed), ", "))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
