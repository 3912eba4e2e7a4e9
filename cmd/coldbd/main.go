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

// Command coldbd embeds the catalog as a standalone process for local
// development and integration testing: it loads config the way the
// rest of the fleet does, wires up a process metrics endpoint, and
// otherwise just keeps the catalog alive for whatever storage-engine
// adapter is compiled in. It carries no RPC surface or command
// routing of its own; those are out of scope for this module.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cubefs/cubefs/blobstore/common/config"
	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/errors"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cubefs/coldb/catalog"
)

// daemonConfig is the on-disk JSON shape for coldbd; catalog.Config is
// embedded the same way server.Config is embedded in the teacher's own
// cmd.Config.
type daemonConfig struct {
	catalog.Config

	MetricsBindPort uint32    `json:"metrics_bind_port"`
	LogLevel        log.Level `json:"log_level"`
}

func main() {
	config.Init("f", "", "coldbd.json")

	cfg := &daemonConfig{}
	if err := config.Load(cfg); err != nil {
		log.Fatal(errors.Detail(err))
	}
	log.SetOutputLevel(cfg.LogLevel)

	durable := catalog.NewMemDurableCatalog()
	c, err := catalog.NewCatalog(cfg.Config, durable)
	if err != nil {
		log.Fatalf("constructing catalog failed: %s", err)
	}
	_ = c

	registerMetricsEndpoint(cfg.MetricsBindPort)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
	<-ch
}

func registerMetricsEndpoint(port uint32) {
	if port == 0 {
		return
	}
	profile.HandleFunc(http.MethodGet, "/metrics", func(c *rpc.Context) {
		promhttp.HandlerFor(catalog.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
	})
}
