package signature

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/141.0.0.0 Safari/537.36"

func fixedABogus() *ABogus {
	seq := []float64{0.5, 0.25, 0.125}
	i := 0
	a := NewABogus(testUserAgent)
	a.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	a.Random = func() float64 {
		v := seq[i%len(seq)]
		i++
		return v
	}
	return a
}

func TestABogusKnownValue(t *testing.T) {
	got := fixedABogus().Sign("device_platform=webapp&aid=6383&web_rid=123456")
	assert.Equal(t, "xfmZ/RhgdD2NfD6g56KLfY3q6UF3Y19I0HViMD2f5d3vqL39HMYD9exoIBGvXKWjwG/-IeYjy4hbO3xprQAjM36UHWwEUdQ2mgWkKl5Q5I0j53iruyRDntmF4vj3SFlm5XNAEOk0y75rKb70Woqe-vIlO62-zo0/9lE=", got)
}

func TestABogusDeterministic(t *testing.T) {
	query := "room_id=7392091211001140287&aid=6383"
	assert.Equal(t, fixedABogus().Sign(query), fixedABogus().Sign(query))
	assert.NotEqual(t, fixedABogus().Sign(query), fixedABogus().Sign(query+"&x=1"))
}

func TestABogusShape(t *testing.T) {
	got := fixedABogus().Sign("a=1")

	require.True(t, strings.HasSuffix(got, "="))
	body := strings.TrimSuffix(got, "=")

	// 12 prefix bytes, 44 slots, the window fingerprint and one checksum byte
	n := 12 + 44 + len(DefaultWindowEnv) + 1
	assert.Len(t, body, (n*4+2)/3)
	for _, r := range body {
		assert.Contains(t, alphabetS4, string(r))
	}
}

func TestABogusPayloadLayout(t *testing.T) {
	a := fixedABogus()
	p := a.payload("device_platform=webapp&aid=6383&web_rid=123456", 1700000000000)

	require.Len(t, p, 44+len(DefaultWindowEnv)+1)
	assert.Equal(t, byte(44), p[0])
	assert.Equal(t, DefaultWindowEnv, string(p[44:44+len(DefaultWindowEnv)]))

	// app id 6383 lands in slots 57 and 58, permuted to positions 17 and 6
	assert.Equal(t, byte(6383&255), p[17])
	assert.Equal(t, byte(6383>>8), p[6])

	// every permuted slot except 34 is in the checksum, and slot 34 is zero
	// for the fixed arguments
	var x byte
	for _, v := range p[:44] {
		x ^= v
	}
	assert.Equal(t, x, p[len(p)-1])
}

func TestEncodeAlphabetPartialGroup(t *testing.T) {
	// 0x010200 split into 6-bit groups is 0, 16, 8; the fourth is dropped
	want := string([]byte{alphabetS3[0], alphabetS3[16], alphabetS3[8]})
	assert.Equal(t, want, encodeAlphabet([]byte{1, 2}, alphabetS3))
	assert.Len(t, encodeAlphabet([]byte{1, 2, 3}, alphabetS3), 4)
	assert.Empty(t, encodeAlphabet(nil, alphabetS3))
}

func TestScramble(t *testing.T) {
	assert.Equal(t, []byte{1, 0, 0, 2}, scramble(0, 1, 2))
	assert.Equal(t, []byte{0xaa, 0x55, 0, 0}, scramble(0xff, 0, 0))
}
