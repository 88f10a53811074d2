package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/model"
	"ytdl-worker/app/utils/ghrelease"
	"ytdl-worker/app/utils/procrunner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type versionRunner struct {
	out  string
	exit int
}

func (v versionRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (*procrunner.Result, error) {
	return &procrunner.Result{Name: name, ExitCode: v.exit, Stdout: []byte(v.out)}, nil
}

type fakeVersionStore struct {
	saved []string
}

func (f *fakeVersionStore) CreateOrUpdateVersion(_ context.Context, version string) (*model.YtdlpVersion, error) {
	f.saved = append(f.saved, version)
	return &model.YtdlpVersion{ID: 1, Current: version}, nil
}

type fakeReleases struct {
	tag   string
	err   error
	calls int
}

func (f *fakeReleases) LatestRelease(context.Context) (*ghrelease.Release, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &ghrelease.Release{TagName: f.tag}, nil
}

func TestDetectVersion(t *testing.T) {
	store := &fakeVersionStore{}
	svc := NewYtdlpVersionService(versionRunner{out: "2025.06.30\n"}, "yt-dlp", store, &fakeReleases{}, time.Hour, logger.Nop())

	assert.Nil(t, svc.Current())
	version, err := svc.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025.06.30", version)
	assert.Equal(t, "2025.06.30", *svc.Current())
	assert.Equal(t, []string{"2025.06.30"}, store.saved)

	_, err = NewYtdlpVersionService(versionRunner{exit: 127}, "yt-dlp", store, &fakeReleases{}, time.Hour, logger.Nop()).Detect(context.Background())
	assert.Error(t, err)
}

func TestLatestVersionCached(t *testing.T) {
	releases := &fakeReleases{tag: "2025.07.01"}
	svc := NewYtdlpVersionService(versionRunner{out: "2025.06.30"}, "yt-dlp", &fakeVersionStore{}, releases, time.Hour, logger.Nop())
	_, err := svc.Detect(context.Background())
	require.NoError(t, err)

	info := svc.Info(context.Background())
	_ = svc.Info(context.Background())
	assert.Equal(t, 1, releases.calls)
	assert.Equal(t, "2025.07.01", *info.Latest)
	assert.False(t, *info.UpToDate)
}

func TestVersionInfoWithoutLatest(t *testing.T) {
	svc := NewYtdlpVersionService(versionRunner{}, "yt-dlp", &fakeVersionStore{}, &fakeReleases{err: errors.New("rate limited")}, time.Hour, logger.Nop())

	info := svc.Info(context.Background())
	assert.Nil(t, info.Current)
	assert.Nil(t, info.Latest)
	assert.Nil(t, info.UpToDate)
}
