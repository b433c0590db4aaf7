package dex

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"
)

var classesEntry = regexp.MustCompile(`^classes(\d*)\.dex$`)

// Load reads every path in order. Plain .dex files are parsed directly;
// anything else is opened as a zip archive (apk, jar) and its top-level
// classesN.dex entries are parsed in multidex order.
func Load(ctx context.Context, paths ...string) ([]*File, error) {
	var files []*File
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.EqualFold(filepath.Ext(p), ".dex") {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", p, err)
			}
			f, err := Parse(filepath.Base(p), data)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}

		archived, err := ReadArchive(ctx, p)
		if err != nil {
			return nil, err
		}
		files = append(files, archived...)
	}
	return files, nil
}

// ReadArchive parses the classesN.dex entries of a zip archive concurrently.
// The result is ordered classes.dex, classes2.dex, classes3.dex, ...
func ReadArchive(ctx context.Context, path string) ([]*File, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer zr.Close()

	type entry struct {
		ord int
		zf  *zip.File
	}
	var entries []entry
	for _, zf := range zr.File {
		m := classesEntry.FindStringSubmatch(zf.Name)
		if m == nil {
			continue
		}
		ord := 1
		if m[1] != "" {
			if ord, err = strconv.Atoi(m[1]); err != nil {
				continue
			}
		}
		entries = append(entries, entry{ord: ord, zf: zf})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("archive %s contains no classes.dex", path)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ord < entries[j].ord })

	files := make([]*File, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rc, err := e.zf.Open()
			if err != nil {
				return fmt.Errorf("open %s!%s: %w", path, e.zf.Name, err)
			}
			defer rc.Close()

			data, err := io.ReadAll(rc)
			if err != nil {
				return fmt.Errorf("read %s!%s: %w", path, e.zf.Name, err)
			}
			f, err := Parse(e.zf.Name, data)
			if err != nil {
				return err
			}
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}
