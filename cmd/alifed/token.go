package main

import (
	"errors"
	"fmt"
	"time"

	"ALiFe-Chain/internal/auth"
	"ALiFe-Chain/internal/config"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

// tokenCommand 为操作员签发访问令牌，签名密钥与服务端共用同一份配置。
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "issue-token",
		Usage: "为操作员签发 JWT 访问令牌",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Usage: "主体 ID，为空时随机生成"},
			&cli.StringFlag{Name: "username", Required: true},
			&cli.StringSliceFlag{Name: "permission", Usage: "可重复，例如 agents:write、fees:claim 或 *"},
			&cli.StringSliceFlag{Name: "role"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			svc, err := auth.NewService(cfg.Auth)
			if err != nil {
				return err
			}
			if svc.Mode() != auth.ModeJWT {
				return errors.New("当前认证模式不签发令牌")
			}

			subject := &auth.Subject{
				ID:          c.String("subject"),
				Username:    c.String("username"),
				Roles:       c.StringSlice("role"),
				Permissions: c.StringSlice("permission"),
			}
			if subject.ID == "" {
				subject.ID = uuid.NewString()
			}
			token, expires, err := svc.IssueToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s\n", token)
			fmt.Fprintf(c.App.ErrWriter, "subject=%s expires=%s\n", subject.ID, expires.Format(time.RFC3339))
			return nil
		},
	}
}
