package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"cronkeeper/internal/app"
	"cronkeeper/internal/task/store"
	logx "cronkeeper/pkg/logx"
)

// openStore loads the task store named by --config. Offline commands log
// warnings only, to stderr.
func openStore(cmd *cobra.Command) (*store.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	st, err := app.OpenStore(cfg, logx.NewWriter(cmd.ErrOrStderr(), "warn"))
	if err != nil {
		return nil, nil, err
	}
	return st, func() { _ = st.Close(context.Background()) }, nil
}

func writeAll(w io.Writer, b []byte) error {
	_, err := w.Write(b)
	return err
}
