/*
Copyright 2025 The KServe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"
)

// watchFile calls onChange once, then every time path is written or replaced, until ctx
// is done. Failures after the first call are logged.
func watchFile(ctx context.Context, path string, log logr.Logger, onChange func() error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create file watcher")
	}
	defer watcher.Close()
	// Editors replace files on save, so the directory is watched.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrapf(err, "failed to watch %s", path)
	}

	if err := onChange(); err != nil {
		return err
	}
	log.Info("Watching for changes", "file", abs)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.Info("File changed, applying", "file", abs)
			if err := onChange(); err != nil {
				log.Error(err, "Failed to apply changes", "file", abs)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "File watcher error")
		}
	}
}
