package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/DoyleJ11/hive-online/internal/cache"
	"github.com/DoyleJ11/hive-online/internal/channel"
	"github.com/DoyleJ11/hive-online/internal/config"
	"github.com/DoyleJ11/hive-online/internal/engine"
	"github.com/DoyleJ11/hive-online/internal/hex"
	"github.com/DoyleJ11/hive-online/internal/logging"
	"github.com/DoyleJ11/hive-online/internal/store"
	"github.com/DoyleJ11/hive-online/internal/supervisor"
)

const help = `commands:
  online | offline          toggle the shared session
  select <id> [commit]      hover or click a piece
  hover off                 drop an uncommitted selection
  pieces                    every piece with its owner and rank
  moves                     legal destinations of the selection
  move <id> <row> <col>     place or move a piece
  restart                   clear the board
  board | reservoir         show state
  quit`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	room := flag.String("room", "testgame", "room to join")
	flag.StringVar(&cfg.BootstrapURL, "bootstrap", cfg.BootstrapURL, "provisioning endpoint")
	flag.StringVar(&cfg.CacheDSN, "cache", cfg.CacheDSN, "local cache DSN")
	flag.Parse()

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := cache.Open(cfg.CacheDSN)
	if err != nil {
		logger.Fatal("open cache", zap.String("dsn", cfg.CacheDSN), zap.Error(err))
	}
	defer db.Close()

	st, err := store.New(ctx, store.Options{
		Room:           *room,
		Namespace:      cfg.Namespace,
		BroadcastDelay: cfg.BroadcastDelay,
		Cache:          db,
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}

	sup := supervisor.New(cfg.BootstrapURL, supervisor.Options{
		Alias:   *room,
		Retry:   cfg.Retry,
		Timeout: cfg.ProvisionTimeout,
		Logger:  logger,
	})
	ch := channel.New(ctx, channel.Options{
		Resolver:       sup,
		Store:          st,
		Logger:         logger,
		ReconnectLimit: cfg.ReconnectLimit,
		ReconnectWait:  cfg.ReconnectWait,
		Warn:           func(msg string) { fmt.Println("!", msg) },
		OnState:        func(s channel.State) { fmt.Println("~", s) },
	})
	defer ch.Close()

	st.Subscribe((&turnWatch{out: os.Stdout}).observe)
	ch.Start()

	fmt.Println(help)
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !run(st, ch, strings.Fields(line)) {
				return
			}
		}
	}
}

func run(st *store.Store, ch *channel.Channel, args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch args[0] {
	case "quit", "exit":
		return false
	case "online":
		ch.SetOnline(true)
	case "offline":
		ch.SetOnline(false)
	case "select":
		id, err := intArg(args, 1)
		if err != nil {
			fmt.Println(err)
			return true
		}
		if !st.Select(id, len(args) > 2 && args[2] == "commit") {
			fmt.Println("not selectable")
		}
	case "hover":
		if len(args) > 1 && args[1] == "off" {
			st.ClearHover()
		}
	case "pieces":
		for _, p := range st.Pieces() {
			fmt.Printf("  #%d p%d r%d\n", p.ID, p.Owner, p.Rank)
		}
	case "moves":
		for _, t := range st.Moves() {
			fmt.Printf("  (%d,%d) h%d\n", t.Row, t.Col, t.Height)
		}
	case "move":
		id, err1 := intArg(args, 1)
		row, err2 := intArg(args, 2)
		col, err3 := intArg(args, 3)
		if err1 != nil || err2 != nil || err3 != nil {
			fmt.Println("usage: move <id> <row> <col>")
			return true
		}
		if !st.Move(id, hex.Coord{Row: row, Col: col}) {
			fmt.Println("illegal move")
		}
	case "restart":
		st.Restart()
	case "board":
		printBoard(st.Snapshot())
	case "reservoir":
		for _, player := range []int{engine.PlayerOne, engine.PlayerTwo} {
			fmt.Printf("player %d:", player)
			for _, p := range st.Reservoir(player) {
				fmt.Printf(" %d/r%d", p.ID, p.Rank)
			}
			fmt.Println()
		}
	default:
		fmt.Println(help)
	}
	return true
}

func printBoard(s store.Snapshot) {
	fmt.Printf("turn %d, online %v, peers %d\n", s.Turn, s.Online, len(s.Participants))
	for _, p := range s.Board.Stones() {
		mark := ""
		if !s.Board.IsTopmost(p) {
			mark = " (covered)"
		}
		fmt.Printf("  #%d p%d r%d at (%d,%d) h%d%s\n", p.ID, p.Owner, p.Rank, p.Row, p.Col, p.Height, mark)
	}
	if s.Selection.Active != nil {
		fmt.Printf("selected #%d committed=%v\n", s.Selection.Active.ID, s.Selection.Committed)
	}
}

// turnWatch announces turn changes. Observers run on the input goroutine
// and on the channel's read goroutine alike.
type turnWatch struct {
	last atomic.Int64
	out  io.Writer
}

func (w *turnWatch) observe(s store.Snapshot) {
	turn := int64(s.Turn)
	if w.last.Swap(turn) != turn {
		fmt.Fprintf(w.out, "player %d to move\n", s.Turn)
	}
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	return strconv.Atoi(args[i])
}
