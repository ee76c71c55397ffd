// tsudoiのエントリーポイント。サブコマンド（serve / worker / migrate / healthcheck）の
// 解釈と起動はappパッケージに委譲する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/tsudoi/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tsudoi: %v\n", err)
		os.Exit(1)
	}
}
