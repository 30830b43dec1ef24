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

// Package storage holds step artifacts. Steps never pass artifact bytes
// through the job store; they write the artifact here and persist only the
// opaque ref returned by Put.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/wire"
)

// ProviderSet is the Wire provider set for the storage package.
var ProviderSet = wire.NewSet(NewStorage)

// Provider type constants.
const (
	Local = "local"
	Minio = "minio"
)

// Conf selects and configures the artifact store.
type Conf struct {
	Provider string `mapstructure:"provider"`
	BasePath string `mapstructure:"basePath"`

	// Local provider.
	Dir string `mapstructure:"dir"`

	// MinIO provider.
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"accessKey"`
	SecretKey string `mapstructure:"secretKey"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseTLS    bool   `mapstructure:"useTLS"`
}

// SetDefaults applies defaults for unset fields.
func (c *Conf) SetDefaults() {
	if c.Provider == "" {
		c.Provider = Local
	}
	if c.Provider == Local && c.Dir == "" {
		c.Dir = "./data/artifacts"
	}
}

// IStorage is the artifact store contract. Object names are slash-separated
// relative paths; Put returns the ref to persist in a checkpoint.
type IStorage interface {
	Put(ctx context.Context, objectName string, reader io.Reader, size int64) (string, error)
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
	Exists(ctx context.Context, objectName string) (bool, error)
}

// NewStorage creates the configured provider.
func NewStorage(c *Conf) (IStorage, error) {
	c.SetDefaults()
	switch c.Provider {
	case Local:
		return newLocal(c)
	case Minio:
		return newMinio(c)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}
}

// getFullPath joins BasePath and objectName without double slashes.
func getFullPath(basePath, objectName string) string {
	if basePath == "" {
		return objectName
	}
	basePath = strings.Trim(basePath, "/")
	objectName = strings.TrimPrefix(objectName, "/")
	return path.Join(basePath, objectName)
}
