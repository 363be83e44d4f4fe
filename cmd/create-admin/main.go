package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/feedlog/internal/config"
	"github.com/feedlog/internal/db"
	"github.com/spf13/pflag"
)

func main() {
	cfg := config.Load()

	username := pflag.StringP("username", "u", cfg.SuperRootUserName, "admin username (SUPER_ROOT_USER_NAME)")
	password := pflag.StringP("password", "p", cfg.SuperRootPassword, "admin password (SUPER_ROOT_PASSWORD)")
	pflag.StringVar(&cfg.DatabaseDriver, "db-driver", cfg.DatabaseDriver, "database driver (sqlite|postgres)")
	pflag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "sqlite database path")
	pflag.Parse()

	name := strings.TrimSpace(*username)
	if name == "" || strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "username and password are required")
		pflag.Usage()
		os.Exit(2)
	}
	if len(strings.TrimSpace(*password)) < 6 {
		log.Fatal("密码长度至少为 6 位")
	}

	// 初始化数据库
	if err := db.Init(db.Options{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		URL:    cfg.DatabaseURL,
		Silent: true,
	}); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	// 检查是否已存在同名用户
	var count int64
	db.DB.Model(&db.User{}).Where("username = ?", name).Count(&count)
	if count > 0 {
		fmt.Printf("用户 %s 已存在，无需初始化\n", name)
		return
	}

	if err := db.EnsureAdmin(db.DB, name, *password); err != nil {
		log.Fatal("创建管理员失败:", err)
	}

	fmt.Println("管理员用户创建成功")
	fmt.Println("用户名:", name)
}
