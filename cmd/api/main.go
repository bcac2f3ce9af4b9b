/*
 * Copyright 2022-2023 Held Objects, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	redisutil "github.com/kthomas/go-redisutil"
	provide "github.com/provideplatform/provide-go/common"

	"github.com/heldobjects/passport/anchor"
	"github.com/heldobjects/passport/common"
	"github.com/heldobjects/passport/registry"
)

const shutdownTimeout = time.Second * 10

func main() {
	common.Log.Debug("starting passport API")

	redisutil.RequireRedis()

	if common.ConsumeNATSStreamingSubscriptions {
		anchor.ScheduleReconciliation()
	}

	r := gin.New()
	r.Use(gin.Recovery())

	registry.InstallAPI(r)
	anchor.InstallAPI(r)

	r.GET("/status", statusHandler)

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: r,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("passport API listener failed; %s", err.Error())
		}
	}()

	common.Log.Debugf("passport API listening on %s", srv.Addr)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	common.Log.Debug("shutting down passport API")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		common.Log.Warningf("failed to gracefully shut down passport API; %s", err.Error())
	}
}

func listenAddr() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return ":" + port
}

func statusHandler(c *gin.Context) {
	provide.Render(nil, 204, c)
}
