package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// manifestName is the metadata entry the packaging engine expects inside
// its input container.
const manifestName = "config.ini"

// manifestKeys are copied from the merged parameter document into the
// container manifest, in this order.
var manifestKeys = []string{
	"layer_height_mm",
	"exposure_s",
	"bottom_exposure_s",
	"bottom_layer_count",
	"resolution_x",
	"resolution_y",
	"pixel_size_um",
	"display_width_mm",
	"display_height_mm",
	"machine_name",
}

// BuildLayerContainer synthesizes the archive the packaging engine takes as
// input: the raster layers in lexical order plus a minimal key=value
// manifest. Returns the number of layers written.
func BuildLayerContainer(layerDir, dst string, params map[string]any) (int, error) {
	layers, err := listRasters(layerDir)
	if err != nil {
		return 0, err
	}
	if len(layers) == 0 {
		return 0, fmt.Errorf("no raster layers in %s", layerDir)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	mw, err := zw.Create(manifestName)
	if err != nil {
		return 0, err
	}
	if _, err := io.WriteString(mw, renderManifest(params)); err != nil {
		return 0, err
	}

	for _, layer := range layers {
		if err := addZipFile(zw, filepath.Join(layerDir, layer), layer); err != nil {
			return 0, fmt.Errorf("add layer %s: %w", layer, err)
		}
	}

	if err := zw.Close(); err != nil {
		return 0, err
	}
	return len(layers), nil
}

// ZipDir archives every file directly inside srcDir, used for the
// layer-archive output artifact.
func ZipDir(srcDir, dst string) error {
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := addZipFile(zw, filepath.Join(srcDir, e.Name()), e.Name()); err != nil {
			return fmt.Errorf("add %s: %w", e.Name(), err)
		}
	}
	return zw.Close()
}

func listRasters(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var layers []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), rasterExt) {
			layers = append(layers, e.Name())
		}
	}
	sort.Strings(layers)
	return layers, nil
}

func renderManifest(params map[string]any) string {
	var b strings.Builder
	for _, k := range manifestKeys {
		if v, ok := params[k]; ok {
			fmt.Fprintf(&b, "%s = %v\n", k, v)
		}
	}
	return b.String()
}

func addZipFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
