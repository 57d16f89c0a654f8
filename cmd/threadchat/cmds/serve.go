package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/threadchat/pkg/events"
	"github.com/go-go-golems/threadchat/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close store")
				}
			}()

			listen, _ := cmd.Flags().GetString("listen")
			if listen == "" {
				listen = app.Config.Listen
			}

			options := []server.Option{
				server.WithTitleGenerator(app.Titles),
				server.WithStore(app.Store),
			}
			if extractor := app.Config.TextExtractor(); extractor != nil {
				options = append(options, server.WithTextExtractor(extractor))
			}
			if analyzer := app.Config.ImageAnalyzer(); analyzer != nil {
				options = append(options, server.WithImageAnalyzer(analyzer))
			}
			s := server.New(app.Registry, options...)

			router, err := events.NewEventRouter(events.WithLogger(events.NewWatermill(log.Logger)))
			if err != nil {
				return err
			}
			defer func() {
				_ = router.Close()
			}()
			app.StoreEvents.SubscribePublisher(events.TopicStore, router.Publisher)
			router.AddHandler("log-store-changes", events.TopicStore, logStoreEvent)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return router.Run(ctx)
			})
			eg.Go(func() error {
				select {
				case <-router.Running():
				case <-ctx.Done():
					return nil
				}
				return s.ListenAndServe(ctx, listen)
			})

			err = eg.Wait()
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", "", "Address to listen on (default from config)")
	return cmd
}

func logStoreEvent(msg *message.Message) error {
	ev, err := events.NewEventFromJson(msg.Payload)
	if err != nil {
		log.Warn().Err(err).Str("message_id", msg.UUID).Msg("Could not parse store event")
		return nil
	}
	log.Debug().Object("event", ev).Msg("Store changed")
	return nil
}
