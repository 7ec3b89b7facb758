package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chen-zeong/dtv/internal/message"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
rooms:
  - platform: Douyu
    room: "288016"
  - platform: bilibili
    room: https://live.bilibili.com/6
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Rooms, 2)
	assert.Equal(t, message.Douyu, cfg.Rooms[0].Platform)
	assert.Equal(t, message.Bilibili, cfg.Rooms[1].Platform)
	assert.Equal(t, 256, cfg.Listener.SinkBuffer)
	assert.Equal(t, 16, cfg.Listener.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout())
	assert.True(t, cfg.ReconnectEnabled())
	assert.Equal(t, 2, cfg.Reconnect.InitialSeconds)
	assert.Equal(t, 120, cfg.Reconnect.MaxSeconds)
	assert.Equal(t, ":8080", cfg.Health.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "./data", cfg.Recorder.OutputDir)
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
	assert.False(t, cfg.Uploader.Enabled)
	assert.Equal(t, 3, cfg.Uploader.MaxRetries)
	assert.Equal(t, 100, cfg.Uploader.QueueSize)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
rooms:
  - platform: huya
    room: "11342412"
listener:
  sink_buffer: 32
  queue_size: 4
  handshake_timeout_seconds: 3
reconnect:
  enabled: false
  initial_seconds: 1
  max_seconds: 5
log:
  level: debug
  format: console
http:
  user_agent: test-agent
  timeout_seconds: 7
cookies:
  douyin: "ttwid=1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 32, cfg.Listener.SinkBuffer)
	assert.Equal(t, 4, cfg.Listener.QueueSize)
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout())
	assert.False(t, cfg.ReconnectEnabled())
	assert.Equal(t, 5, cfg.Reconnect.MaxSeconds)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "test-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, 7*time.Second, cfg.HTTPTimeout())
	assert.Equal(t, "ttwid=1", cfg.Cookies.Douyin)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("DANMAKU_USER_AGENT", "env-agent")
	t.Setenv("DANMAKU_HEALTH_ADDR", ":9090")
	t.Setenv("DANMAKU_LOG_LEVEL", "warn")
	t.Setenv("DOUYIN_COOKIE", "ttwid=env")
	t.Setenv("BILIBILI_COOKIE", "buvid3=env")

	path := writeConfig(t, `
rooms:
  - platform: douyin
    room: "427138916527"
http:
  user_agent: file-agent
cookies:
  douyin: ttwid=file
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-agent", cfg.HTTP.UserAgent)
	assert.Equal(t, ":9090", cfg.Health.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "ttwid=env", cfg.Cookies.Douyin)
	assert.Equal(t, "buvid3=env", cfg.Cookies.Bilibili)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"no rooms":         `rooms: []`,
		"unknown platform": "rooms:\n  - platform: twitch\n    room: x\n",
		"empty room":       "rooms:\n  - platform: huya\n    room: \"\"\n",
		"duplicate room":   "rooms:\n  - platform: huya\n    room: \"1\"\n  - platform: HUYA\n    room: \"1\"\n",
		"backoff bounds":   "rooms:\n  - platform: huya\n    room: \"1\"\nreconnect:\n  initial_seconds: 10\n  max_seconds: 5\n",
		"upload no bucket": "rooms:\n  - platform: huya\n    room: \"1\"\nuploader:\n  enabled: true\ns3:\n  region: us-east-1\n",
		"upload no region": "rooms:\n  - platform: huya\n    room: \"1\"\nuploader:\n  enabled: true\ns3:\n  bucket: logs\n",
		"upload no secret": "rooms:\n  - platform: huya\n    room: \"1\"\nuploader:\n  enabled: true\ns3:\n  bucket: logs\n  region: us-east-1\n  access_key_id: AKIA\n",
		"role no token":    "rooms:\n  - platform: huya\n    room: \"1\"\nuploader:\n  enabled: true\ns3:\n  bucket: logs\n  region: us-east-1\n  role_arn: arn:aws:iam::1:role/x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestUploaderSettings(t *testing.T) {
	t.Setenv("S3_ACCESS_KEY_ID", "AKIAENV")
	t.Setenv("S3_SECRET_ACCESS_KEY", "secret-env")

	path := writeConfig(t, `
rooms:
  - platform: huya
    room: "1"
s3:
  bucket: danmaku-logs
  region: us-east-1
  endpoint: http://127.0.0.1:9000
uploader:
  enabled: true
  delete_after_upload: true
  max_retries: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Uploader.Enabled)
	assert.True(t, cfg.Uploader.DeleteAfterUpload)
	assert.Equal(t, 5, cfg.Uploader.MaxRetries)
	assert.Equal(t, "danmaku-logs", cfg.S3.Bucket)
	assert.Equal(t, "http://127.0.0.1:9000", cfg.S3.Endpoint)
	assert.Equal(t, "AKIAENV", cfg.S3.AccessKeyID)
	assert.Equal(t, "secret-env", cfg.S3.SecretAccessKey)

	// Incomplete S3 settings are fine while uploads are off.
	_, err = Load(writeConfig(t, "rooms:\n  - platform: huya\n    room: \"1\"\ns3:\n  access_key_id: AKIA\n"))
	assert.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DANMAKU_TEST_DOTENV=from-file\n"), 0644))
	t.Setenv("DANMAKU_TEST_DOTENV", "")
	os.Unsetenv("DANMAKU_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("DANMAKU_TEST_DOTENV"))
}
