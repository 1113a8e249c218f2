// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/ocifuse/overlayfs"
	overlayfssample "github.com/ocifuse/overlayfs/samples/overlayfs"
)

var fLowerDirs = flag.String("lowerdir", "", "Colon-separated lower layer roots, bottom to top.")
var fUpperDir = flag.String("upperdir", "", "Writable top layer root.")
var fMountPoint = flag.String("mount_point", "", "Path to mount point.")

var fDebug = flag.Bool("debug", false, "Enable debug logging.")

func main() {
	flag.Parse()

	if *fDebug {
		flag.Set("fuse.debug", "true")
	}

	errorLogger := log.New(os.Stderr, "fuse: ", 0)

	if *fLowerDirs == "" {
		log.Fatalf("You must set --lowerdir.")
	}

	if *fUpperDir == "" {
		log.Fatalf("You must set --upperdir.")
	}

	if *fMountPoint == "" {
		log.Fatalf("You must set --mount_point.")
	}

	if err := os.MkdirAll(*fMountPoint, 0777); err != nil {
		log.Fatalf("Failed to create mount point at '%v'", *fMountPoint)
	}

	if err := os.MkdirAll(*fUpperDir, 0777); err != nil {
		log.Fatalf("Failed to create upper dir at '%v'", *fUpperDir)
	}

	lowerDirs := strings.Split(*fLowerDirs, ":")

	server, err := overlayfssample.NewOverlayServer(lowerDirs, *fUpperDir, errorLogger)
	if err != nil {
		log.Fatalf("NewOverlayServer: %v", err)
	}

	cfg := &fuse.MountConfig{}

	mfs, err := fuse.Mount(*fMountPoint, server, cfg)
	if err != nil {
		log.Fatalf("Mount: %v", err)
	}

	// Wait for it to be unmounted.
	if err = mfs.Join(context.Background()); err != nil {
		log.Fatalf("Join: %v", err)
	}
}
