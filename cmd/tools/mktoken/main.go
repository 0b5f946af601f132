// mktoken 用当前配置签一个测试 JWT，方便 curl 调私有接口：
//
//	go run ./cmd/tools/mktoken -owner alice -role user
package main

import (
	"flag"
	"fmt"
	"os"

	"tinylink.local/internal/platform/auth"
	"tinylink.local/internal/platform/config"
)

func main() {
	owner := flag.String("owner", "", "owner id to embed in the token")
	role := flag.String("role", "user", "role claim (user/admin)")
	flag.Parse()

	if *owner == "" {
		fmt.Fprintln(os.Stderr, "usage: mktoken -owner <id> [-role user|admin]")
		os.Exit(2)
	}

	cfg := config.Load()
	ts, err := auth.NewHS256Service(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "token service:", err)
		os.Exit(1)
	}
	token, err := ts.Sign(*owner, *role)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
