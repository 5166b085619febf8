// Copyright 2022 Northwestern University. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command imgserve runs the image-server dispatcher: the single
// process that authenticates incoming render requests and fans them
// out to per-user Supervisor goroutines. Workers run as goroutines in
// this process; the OS identity switch is the injected,
// no-op-by-default supervisor.IdentitySwitcher.
package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nu-is/imgserve/internal/auth"
	"github.com/nu-is/imgserve/internal/dispatcher"
	"github.com/nu-is/imgserve/internal/hdf5"
	"github.com/nu-is/imgserve/internal/launcher"
	"github.com/nu-is/imgserve/internal/log"
	"github.com/nu-is/imgserve/internal/queue"
)

var (
	sharedAddr string
	localAddr  string
	caFile     string
	outputDir  string
	workers    int
	verbose    bool
)

func run(cmd *cobra.Command, args []string) {
	var logger *log.Helper
	if verbose {
		logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelDebug)))
	} else {
		logger = log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelInfo)))
	}

	shared, err := queue.Dial(sharedAddr)
	if err != nil {
		logger.Fatalf("imgserve: connecting to shared queue: %v", err)
	}
	defer shared.Close()

	local, err := queue.Dial(localAddr)
	if err != nil {
		logger.Fatalf("imgserve: connecting to local queue: %v", err)
	}
	defer local.Close()

	var roots *x509.CertPool
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			logger.Fatalf("imgserve: reading CA file %s: %v", caFile, err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			logger.Fatalf("imgserve: no certificates found in %s", caFile)
		}
	}
	decoder := auth.NewDecoder(roots)

	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			logger.Fatalf("imgserve: creating output dir %s: %v", outputDir, err)
		}
	}
	sink := newFileSink(outputDir, logger)

	lnch := launcher.New(local, hdf5.NewBackend(), sink, nil, logger, workers)
	d := dispatcher.New(shared, local, decoder, lnch, logger)

	logger.Infof("imgserve: dispatcher started, shared=%s local=%s workers=%d", sharedAddr, localAddr, workers)
	if err := d.Run(context.Background()); err != nil {
		logger.Fatalf("imgserve: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "imgserve",
		Short: "Crystallography image-serving dispatcher",
		Long:  "imgserve authenticates render requests and serves JPEG tiles and line profiles from HDF5 and TIFF detector output.",
		Run:   run,
	}

	rootCmd.Flags().StringVar(&sharedAddr, "shared-redis", envOr("IMGSERVE_SHARED_REDIS", "10.1.253.10:6379"), "address of the shared queue / auth store Redis instance")
	rootCmd.Flags().StringVar(&localAddr, "local-redis", envOr("IMGSERVE_LOCAL_REDIS", "127.0.0.1:6379"), "address of the local private-queue Redis instance")
	rootCmd.Flags().StringVar(&caFile, "ca-file", "", "PEM file of trusted CAs for verifying auth assertions; omit to skip chain validation")
	rootCmd.Flags().StringVar(&outputDir, "output-dir", "", "directory rendered results are written to; empty disables persistence")
	rootCmd.Flags().IntVar(&workers, "workers", 4, "worker goroutines per supervisor (N_WORKER_THREADS)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
