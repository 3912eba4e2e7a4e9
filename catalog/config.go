// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package catalog

import apierrors "github.com/cubefs/coldb/errors"

// Config is the catalog's process-local configuration, loaded the same
// way the rest of the fleet loads JSON config: unmarshaled straight
// into this struct by the caller (e.g. via
// github.com/cubefs/cubefs/blobstore/common/config.Load in a server's
// main package) and passed to NewCatalog.
type Config struct {
	// DefaultProfileLevel is the level GetProfileSettings reports for a
	// database that has no explicit profiling settings.
	DefaultProfileLevel int `json:"default_profile_level"`

	// ReaperSweepConcurrency bounds how many drop-pending idents the
	// reaper inspects concurrently per sweep.
	ReaperSweepConcurrency int `json:"reaper_sweep_concurrency"`
}

func (c *Config) validate() error {
	if c.DefaultProfileLevel < 0 || c.DefaultProfileLevel > 2 {
		return apierrors.ErrInvalidProfileLevel
	}
	return nil
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.ReaperSweepConcurrency <= 0 {
		cfg.ReaperSweepConcurrency = 64
	}
	return cfg
}
