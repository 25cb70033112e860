// Package exporters writes images from an OCI image layout to other formats.
package exporters

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Request selects an image in a layout and where to write it
type Request struct {
	// Layout is the OCI image layout directory
	Layout string
	// Tag selects the image within the layout
	Tag string
	// Output is the file to create
	Output string
	// Reference names the image inside formats that record one. Defaults to
	// rpmimg:<Tag>.
	Reference string
	// ClampTime bounds mtimes in archives the exporter creates itself
	ClampTime time.Time
	Logger    logrus.FieldLogger
}

// Exporter writes one output format
type Exporter interface {
	Export(ctx context.Context, req Request) error
}

var exporters = make(map[string]Exporter)

// RegisterExporter makes an exporter available under name
func RegisterExporter(name string, exporter Exporter) {
	exporters[name] = exporter
}

// GetExporter returns the exporter registered under name
func GetExporter(name string) (Exporter, error) {
	exporter, exists := exporters[name]
	if !exists {
		return nil, fmt.Errorf("exporter %s not found", name)
	}
	return exporter, nil
}

// ListExporters returns the registered names, sorted
func ListExporters() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
