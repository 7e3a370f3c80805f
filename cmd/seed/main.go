package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/config"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/repository"
	"github.com/sysu-ecnc-dev/shift-scheduler/backend/internal/seed"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	var (
		cfg    *config.Config
		dbpool *sql.DB
		seeder *seed.Seeder
	)

	root := &cobra.Command{
		Use:   "seed",
		Short: "向开发数据库插入演示数据",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig()
			if err != nil {
				return err
			}
			dbpool, err = repository.OpenDB(cfg)
			if err != nil {
				return err
			}
			seeder = seed.New(repository.NewRepository(cfg, dbpool), logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			dbpool.Close()
		},
		SilenceUsage: true,
	}

	var n int
	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "插入随机员工",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := seeder.Users(cmd.Context(), n, cfg.Seed.User.Password, cfg.Email.UserDomain)
			return err
		},
	}
	usersCmd.Flags().IntVarP(&n, "count", "n", 5, "要插入的用户数量")

	var (
		members     int
		days        int
		perDay      int
		seats       int32
		ownerID     int64
		timezone    string
		closingTime string
	)
	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "插入一个完整的演示地点：组织单元、地点、成员和未来若干天的时间段",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loc, err := seeder.Location(ctx, seed.LocationParams{
				OrgUnitName:        "网络与信息技术中心",
				Name:               "东校园前台",
				Timezone:           timezone,
				DefaultClosingTime: closingTime,
				OwnerID:            ownerID,
				ShortNoticeFine:    decimal.NewFromInt(10),
				InvalidReasonFine:  decimal.NewFromInt(5),
			})
			if err != nil {
				return err
			}

			users, err := seeder.Users(ctx, members, cfg.Seed.User.Password, cfg.Email.UserDomain)
			if err != nil {
				return err
			}
			if err := seeder.Members(ctx, loc.ID, users); err != nil {
				return err
			}

			_, err = seeder.Slots(ctx, loc, time.Now(), days, perDay, seats)
			return err
		},
	}
	demoCmd.Flags().IntVar(&members, "members", 8, "成员数量")
	demoCmd.Flags().IntVar(&days, "days", 14, "生成时间段的天数")
	demoCmd.Flags().IntVar(&perDay, "per-day", 3, "每天的时间段数量")
	demoCmd.Flags().Int32Var(&seats, "seats", 3, "每个时间段的席位数")
	demoCmd.Flags().Int64Var(&ownerID, "owner-id", 0, "地点负责人的用户 ID")
	demoCmd.Flags().StringVar(&timezone, "timezone", "Asia/Shanghai", "地点时区")
	demoCmd.Flags().StringVar(&closingTime, "closing-time", "22:00:00", "地点默认关门时间")

	var (
		file       string
		locationID int64
	)
	rosterCmd := &cobra.Command{
		Use:   "roster",
		Short: "从 CSV 花名册导入成员",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			_, err = seeder.ImportRoster(cmd.Context(), f, locationID, cfg.Seed.User.Password)
			return err
		},
	}
	rosterCmd.Flags().StringVarP(&file, "file", "f", "./internal/seed/data/roster.csv", "花名册文件路径")
	rosterCmd.Flags().Int64Var(&locationID, "location-id", 0, "导入到的地点 ID")
	_ = rosterCmd.MarkFlagRequired("location-id")

	root.AddCommand(usersCmd, demoCmd, rosterCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		logger.Error("执行失败", "error", err)
		os.Exit(1)
	}
}
