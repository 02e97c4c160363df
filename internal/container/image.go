package container

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/image"

	"github.com/autominion/minion/internal/log"
	"github.com/autominion/minion/internal/ui"
)

// EnsureImage pulls an image unless it is already present locally.
func (r *Runtime) EnsureImage(ctx context.Context, imageName string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspecting image %s: %w", imageName, err)
	}

	ui.Infof("Pulling image %s...", imageName)
	reader, err := r.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	defer reader.Close()

	// The pull endpoint streams JSON progress messages; a failed layer
	// surfaces as an error message mid-stream, not as a non-2xx status.
	if err := drainJSONStream(reader, io.Discard); err != nil {
		return fmt.Errorf("pulling image %s: %w", imageName, err)
	}
	return nil
}

// BuildImage builds the agent image from the directory containing a
// Dockerfile and tags it.
func (r *Runtime) BuildImage(ctx context.Context, contextDir, tag string) error {
	buf, err := tarDirectory(contextDir)
	if err != nil {
		return fmt.Errorf("packing build context: %w", err)
	}

	ui.Infof("Building image %s...", tag)
	resp, err := r.cli.ImageBuild(ctx, buf, build.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("building image: %w", err)
	}
	defer resp.Body.Close()

	if err := drainJSONStream(resp.Body, os.Stdout); err != nil {
		return fmt.Errorf("building image: %w", err)
	}
	log.Debug("image built", "tag", tag)
	return nil
}

// drainJSONStream consumes a Docker JSON message stream, forwarding build
// output to w and failing on the first in-stream error.
func drainJSONStream(r io.Reader, w io.Writer) error {
	decoder := json.NewDecoder(r)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading engine output: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("%s", msg.Error)
		}
		if msg.Stream != "" {
			fmt.Fprint(w, msg.Stream)
		}
	}
}

// tarDirectory packs dir into an uncompressed tar archive with paths
// relative to dir.
func tarDirectory(dir string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("writing tar header for %s: %w", rel, err)
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("writing %s to tar: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	return &buf, nil
}
