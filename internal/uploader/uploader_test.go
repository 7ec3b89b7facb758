package uploader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 stores uploaded bodies by key and fails the first failures calls.
type fakeS3 struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string]string
	bucket   string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("service unavailable")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.bucket = aws.ToString(in.Bucket)
	f.objects[aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func testUploader(client objectPutter, deleteAfter bool, retries int) *Uploader {
	u := newUploader(client, Options{Bucket: "danmaku-logs", DeleteAfterUpload: deleteAfter, MaxRetries: retries}, nil)
	u.retryDelay = time.Millisecond
	return u
}

func writeLog(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestObjectKey(t *testing.T) {
	key, err := ObjectKey("douyu_288016_20240501_120000.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "2024/05/01/douyu/288016/douyu_288016_20240501_120000.jsonl", key)

	key, err = ObjectKey("douyin_room_with_parts_20241231_235959.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "2024/12/31/douyin/room_with_parts/douyin_room_with_parts_20241231_235959.jsonl", key)

	for _, bad := range []string{
		"notes.txt",
		"douyu_1_20240501.jsonl",
		"douyu_1_2024xx01_120000.jsonl",
		"douyu_1_20240501_120000.log",
	} {
		_, err := ObjectKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestUploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "huya_1_20240501_120000.jsonl", "{\"text\":\"hi\"}\n")
	store := &fakeS3{}

	require.NoError(t, testUploader(store, true, 0).uploadWithRetry(context.Background(), path))
	assert.Equal(t, "danmaku-logs", store.bucket)
	assert.Equal(t, "{\"text\":\"hi\"}\n", store.objects["2024/05/01/huya/1/huya_1_20240501_120000.jsonl"])
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadRetries(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "bilibili_6_20240501_120000.jsonl", "x\n")
	store := &fakeS3{failures: 2}

	require.NoError(t, testUploader(store, false, 3).uploadWithRetry(context.Background(), path))
	assert.Equal(t, 3, store.calls)
	_, err := os.Stat(path)
	assert.NoError(t, err, "file is kept without delete_after_upload")
}

func TestUploadGivesUp(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "bilibili_6_20240501_120000.jsonl", "x\n")
	store := &fakeS3{failures: 100}

	err := testUploader(store, true, 2).uploadWithRetry(context.Background(), path)
	assert.Error(t, err)
	assert.Equal(t, 3, store.calls)
	_, err = os.Stat(path)
	assert.NoError(t, err, "a failed upload keeps the local file")
}

func TestMissingFileIsNotRetried(t *testing.T) {
	store := &fakeS3{}
	err := testUploader(store, false, 5).uploadWithRetry(context.Background(),
		filepath.Join(t.TempDir(), "douyu_1_20240501_120000.jsonl"))
	assert.Error(t, err)
	assert.Equal(t, 0, store.calls)
}

func TestStartDrainsUntilClosed(t *testing.T) {
	dir := t.TempDir()
	files := make(chan string, 2)
	files <- writeLog(t, dir, "douyu_1_20240501_120000.jsonl", "a\n")
	files <- writeLog(t, dir, "huya_2_20240501_120000.jsonl", "b\n")
	close(files)

	store := &fakeS3{}
	require.NoError(t, testUploader(store, false, 0).Start(context.Background(), files))
	assert.Equal(t, []string{
		"2024/05/01/douyu/1/douyu_1_20240501_120000.jsonl",
		"2024/05/01/huya/2/huya_2_20240501_120000.jsonl",
	}, store.keys())
}

func TestStartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := testUploader(&fakeS3{}, false, 0).Start(ctx, make(chan string))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanAndUploadExisting(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "douyin_7_20240501_120000.jsonl", "a\n")
	writeLog(t, dir, "notes.txt", "skip\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jsonl"), 0755))

	store := &fakeS3{}
	u := testUploader(store, false, 0)
	require.NoError(t, u.ScanAndUploadExisting(context.Background(), dir))
	u.wg.Wait()
	assert.Equal(t, []string{"2024/05/01/douyin/7/douyin_7_20240501_120000.jsonl"}, store.keys())

	assert.NoError(t, u.ScanAndUploadExisting(context.Background(), filepath.Join(dir, "missing")))
}
