// Package media downloads the audio track of a video link into a served
// directory and hands back its public URL.
package media

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stellarlinkco/signalbot/internal/command"
	"github.com/stellarlinkco/signalbot/internal/config"
	"github.com/stellarlinkco/signalbot/internal/logging"
)

// File is one finished download.
type File struct {
	ID   string // directory name under the output dir
	Path string
}

// Name is the file name as stored on disk.
func (f File) Name() string { return filepath.Base(f.Path) }

type Downloader struct {
	runner     command.Runner
	command    string
	format     string
	outputDir  string
	linkPrefix string
	newID      func() string
	logger     *zap.Logger
}

func NewDownloader(cfg config.MediaConfig, runner command.Runner, logger *zap.Logger) *Downloader {
	return &Downloader{
		runner:     runner,
		command:    cfg.Command,
		format:     cfg.Format,
		outputDir:  cfg.OutputDir,
		linkPrefix: cfg.LinkPrefix,
		newID:      uuid.NewString,
		logger:     logging.OrNop(logger).Named("media"),
	}
}

func (d *Downloader) args(dir, link string) []string {
	return []string{
		"-f", d.format,
		"-P", dir,
		"--restrict-filenames",
		"-o", "%(title).48s.%(ext)s",
		"--no-simulate",
		"--print", "after_move:filepath",
		link,
	}
}

// Download fetches link into a fresh directory.
func (d *Downloader) Download(ctx context.Context, link string) (File, error) {
	id := d.newID()
	dir := filepath.Join(d.outputDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return File{}, fmt.Errorf("create download dir: %w", err)
	}

	d.logger.Info("downloading", zap.String("url", link), zap.String("dir", dir))
	res, err := d.runner.Run(ctx, d.command, d.args(dir, link)...)
	if err != nil {
		return File{}, fmt.Errorf("run %s: %w", d.command, err)
	}
	if res.ExitCode != 0 {
		return File{}, fmt.Errorf("%s exited with code %d: %s", d.command, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}

	lines := res.Lines()
	if len(lines) == 0 {
		return File{}, fmt.Errorf("%s reported no file for %s", d.command, link)
	}
	path := strings.TrimSpace(lines[len(lines)-1])
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, filepath.Base(path))
	}
	d.logger.Info("file downloaded", zap.String("path", path))
	return File{ID: id, Path: path}, nil
}

// URL is the public address of f.
func (d *Downloader) URL(f File) string {
	return d.linkPrefix + f.ID + "/" + url.QueryEscape(f.Name())
}

// Link downloads link and returns the public address of the result.
func (d *Downloader) Link(ctx context.Context, link string) (string, error) {
	f, err := d.Download(ctx, link)
	if err != nil {
		return "", err
	}
	return d.URL(f), nil
}
