// Command libman は図書館の貸出・延滞・罰金管理サーバー。
//
// 使い方:
//
//	libman [serve|worker|sweep|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/libman/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
