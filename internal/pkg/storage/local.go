// Copyright 2025 Storymill Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// localStorage stores artifacts under a directory on the host filesystem.
// Writes go to a temp file first and are renamed into place, so a crashed
// write never leaves a half-written artifact behind a valid ref.
type localStorage struct {
	root     string
	basePath string
}

func newLocal(c *Conf) (IStorage, error) {
	root, err := filepath.Abs(c.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &localStorage{root: root, basePath: c.BasePath}, nil
}

// path maps a slash-separated object ref to an absolute file path, refusing
// anything that would escape the storage root.
func (s *localStorage) path(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("object name %q escapes storage root", ref)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *localStorage) Put(ctx context.Context, objectName string, reader io.Reader, size int64) (string, error) {
	ref := getFullPath(s.basePath, objectName)
	dst, err := s.path(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write artifact %s: %w", objectName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close artifact %s: %w", objectName, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("finalize artifact %s: %w", objectName, err)
	}
	return ref, nil
}

func (s *localStorage) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	src, err := s.path(objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", objectName, err)
	}
	return f, nil
}

func (s *localStorage) Exists(ctx context.Context, objectName string) (bool, error) {
	p, err := s.path(objectName)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
