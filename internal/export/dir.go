package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ariefcatur/go-order-console/internal/gateway"
)

// DirDeliverer saves artifacts into Dir under their delivered names,
// replacing any earlier export of the same format.
type DirDeliverer struct {
	Dir string
}

func (d DirDeliverer) Path(format gateway.ExportFormat) string {
	return filepath.Join(d.Dir, format.Filename())
}

func (d DirDeliverer) Deliver(_ context.Context, a gateway.Artifact) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(d.Dir, "."+a.Filename+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", a.Filename, err)
	}
	if _, err := tmp.Write(a.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", a.Filename, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", a.Filename, err)
	}
	return os.Rename(tmp.Name(), filepath.Join(d.Dir, a.Filename))
}
