package main

import (
	"bookbot/dao"
	"bookbot/internal/aiclient"
	"bookbot/internal/books"
	"bookbot/internal/config"
	"bookbot/internal/knowledge"
	"bookbot/internal/reporting"
	"bookbot/internal/telegram"
	"bookbot/model"
	"bookbot/route"
	"bookbot/service"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var offline bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the bot over HTTP and Telegram",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot in the console with in-memory state",
	RunE:  runChat,
}

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Print the books, genres and fact counts of the knowledge base",
	RunE:  runKB,
}

func loadKnowledge() (*knowledge.Store, error) {
	if cfg.Knowledge.Path != "" {
		return knowledge.LoadFile(cfg.Knowledge.Path, logger)
	}
	return knowledge.LoadDefault(logger)
}

func buildStore(ctx context.Context, c *config.Config) (dao.Store, error) {
	switch c.State.Backend {
	case config.BackendRedis:
		store := dao.NewRedisStore(dao.RedisOptions{
			Addr:       c.Redis.Addr,
			Password:   c.Redis.Password,
			DB:         c.Redis.DB,
			TTL:        c.State.TTL,
			MaxRetries: c.Redis.MaxRetries,
		})
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect redis %s: %w", c.Redis.Addr, err)
		}
		return store, nil
	case config.BackendDynamoDB:
		return dao.NewDynamoStoreFromConfig(ctx, c.DynamoDB.Table, c.DynamoDB.Region, c.State.TTL)
	default:
		return dao.NewMemoryStore(), nil
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kb, err := loadKnowledge()
	if err != nil {
		return err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reporter, err := reporting.New(reporting.Options{DSN: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment})
	if err != nil {
		return err
	}
	defer reporter.Flush(2 * time.Second)

	chatSvc := service.NewChatService(
		aiclient.NewClient(cfg.Recognizer.URL, cfg.Recognizer.Timeout),
		books.NewService(kb, logger),
		store,
		service.WithLogger(logger),
		service.WithReporter(reporter),
	)

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	route.Register(r, chatSvc, kb)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr), zap.String("state_backend", cfg.State.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Telegram.Token != "" {
		bot, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.Timeout, cfg.Telegram.Debug, chatSvc, logger)
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		g.Go(func() error { return bot.Run(gctx) })
	}

	return g.Wait()
}

func runChat(cmd *cobra.Command, args []string) error {
	kb, err := loadKnowledge()
	if err != nil {
		return err
	}

	var recognizer service.Recognizer
	if !offline {
		recognizer = aiclient.NewClient(cfg.Recognizer.URL, cfg.Recognizer.Timeout)
	}
	chatSvc := service.NewChatService(recognizer, books.NewService(kb, logger), dao.NewMemoryStore(),
		service.WithLogger(logger))

	return chatLoop(cmd.Context(), chatSvc, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatLoop runs one console conversation until input ends or the user types exit.
func chatLoop(ctx context.Context, chatSvc *service.ChatService, in io.Reader, out io.Writer) error {
	conversationID := uuid.NewString()
	respond := service.ResponderFunc(func(_ context.Context, reply model.Reply) error {
		if reply.Attachment != nil {
			_, err := fmt.Fprintf(out, "bot> [%s]\n", reply.Attachment.ContentType)
			return err
		}
		_, err := fmt.Fprintf(out, "bot> %s\n", reply.Text)
		return err
	})

	err := chatSvc.HandleTurn(ctx, model.ConversationTurn{
		Kind:           model.TurnMembershipChange,
		ConversationID: conversationID,
		RecipientID:    "bot",
		AddedMemberIDs: []string{"console"},
	}, respond)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "exit" || text == "quit" {
			return nil
		}
		if text == "" {
			continue
		}
		if err := chatSvc.HandleTurn(ctx, model.ConversationTurn{
			Kind:           model.TurnMessage,
			Text:           text,
			ConversationID: conversationID,
			FromID:         "console",
		}, respond); err != nil {
			return err
		}
	}
}

func runKB(cmd *cobra.Command, args []string) error {
	kb, err := loadKnowledge()
	if err != nil {
		return err
	}
	return printKnowledge(cmd.Context(), kb, cmd.OutOrStdout())
}

func printKnowledge(ctx context.Context, kb *knowledge.Store, out io.Writer) error {
	list, err := kb.Books(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TITLE\tAUTHOR\tRATE\tGENRES")
	for _, b := range list {
		fmt.Fprintf(w, "%s\t%s\t%g\t%s\n", b.Name, b.Author, b.Rate, strings.Join(b.Genres, ", "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	genres, err := kb.Solve(ctx, knowledge.NewQuery(knowledge.PredGenre, knowledge.Var("Genre")))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nGenres: %s\n\n", strings.Join(genres.Values("Genre"), ", "))

	stats := kb.Stats()
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%-22s %d\n", name, stats[name])
	}
	return nil
}
