// Терминальный клиент: журнал активной команды, непрочитанное, упоминания и звуковые сигналы
// для одного пользователя. Работает напрямую с общим живым хранилищем и каталогом команд.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamchat/internal/audio"
	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/config"
	"github.com/teamchat/internal/desk"
	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/events"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/mention"
	"github.com/teamchat/internal/messagelog"
	"github.com/teamchat/internal/notification"
	"github.com/teamchat/internal/prefs"
	"github.com/teamchat/internal/readstate"
	"github.com/teamchat/internal/repository"
	"github.com/teamchat/internal/startup"
)

type teamDirectory interface {
	directory.Directory
	directory.TeamLister
}

func main() {
	logger.SetPrefix("desk")
	userID := flag.String("user", "", "user id")
	teamsFlag := flag.String("teams", "", "comma-separated team ids (default: all teams of the user)")
	silent := flag.Bool("silent", false, "do not use the system speaker")
	flag.Parse()
	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: desk -user <id> [-teams a,b] [-silent]")
		os.Exit(2)
	}

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	dir, closeDir := openDirectory(cfg)
	defer closeDir()
	store := startup.OpenStore(cfg, "")
	defer store.Close()
	pub := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer pub.Close()

	flags, err := prefs.Open(cfg.PrefsFile)
	if err != nil {
		logger.Errorf("prefs: %v", err)
		os.Exit(1)
	}
	var synth audio.Synth = audio.BeepSynth{}
	if *silent {
		synth = audio.SilentSynth{}
	}
	engine := audio.NewEngine(synth, audio.WithCooldown(cfg.CueCooldown), audio.WithFlagStore(flags))
	defer engine.Close()

	msgLog := messagelog.New(store, dir)
	notes := notification.NewStore(store)
	dispatcher := mention.NewDispatcher(dir, notes, chat.MentionEventHook(pub))
	chatSvc := chat.NewService(msgLog, dir, dispatcher, pub)
	sess := desk.NewSession(desk.Deps{
		UserID:  *userID,
		Log:     msgLog,
		Chat:    chatSvc,
		Tracker: readstate.New(store, msgLog, readstate.WithBatchWindow(cfg.UnreadBatchDelay)),
		Notes:   notes,
		Cues:    engine,
		Out:     os.Stdout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	teams := splitTeams(*teamsFlag)
	if len(teams) == 0 {
		mine, err := dir.GetUserTeams(ctx, *userID)
		if err != nil {
			logger.Errorf("teams of %s: %v", *userID, err)
			os.Exit(1)
		}
		for _, t := range mine {
			teams = append(teams, t.ID)
		}
	}
	if err := sess.Start(ctx, teams); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer sess.Close()
	fmt.Printf("-- %s in %v; sound %s. Type to chat, /team <id>, /sound on|off, /read, /quit\n",
		*userID, teams, onOff(engine.Enabled()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			opCtx, opCancel := context.WithTimeout(ctx, 10*time.Second)
			err := sess.HandleLine(opCtx, line)
			opCancel()
			if errors.Is(err, desk.ErrQuit) {
				break loop
			}
			if err != nil {
				fmt.Printf("!! %v\n", err)
			}
		}
	}
	dispatcher.Wait()
	chatSvc.Wait()
}

func openDirectory(cfg *config.Config) (teamDirectory, func()) {
	if cfg.DirectoryBackend == config.DirectoryFile {
		static, err := directory.LoadStaticFile(cfg.DirectoryFile)
		if err != nil {
			logger.Errorf("directory: %v", err)
			os.Exit(1)
		}
		return static, func() {}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = 4
	pool := startup.ConnectDBWithRetry(poolCfg, 30*time.Second, "")
	return repository.NewTeamRepository(pool), pool.Close
}

func splitTeams(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
