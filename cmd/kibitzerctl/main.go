// kibitzerctl is the operator CLI: browse the provider's broadcast
// catalog and put rounds under analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kibitzerlive/kibitzer/internal/catalog"
	"github.com/kibitzerlive/kibitzer/internal/config"
	"github.com/kibitzerlive/kibitzer/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  list-tournaments             list current broadcast tournaments
  list-boards -round <id>      list the boards of a round
  add-tournament -tournament <id> [-hidden]
                               follow a tournament for analysis
`, os.Args[0])
	os.Exit(2)
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	cat := catalog.New(cfg.Catalog.BaseURL, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "list-tournaments":
		listTournaments(ctx, cat)
	case "list-boards":
		fs := flag.NewFlagSet("list-boards", flag.ExitOnError)
		round := fs.String("round", "", "round id")
		fs.Parse(os.Args[2:])
		if *round == "" {
			fs.Usage()
			os.Exit(2)
		}
		listBoards(ctx, cat, *round)
	case "add-tournament":
		fs := flag.NewFlagSet("add-tournament", flag.ExitOnError)
		tournament := fs.String("tournament", "", "tournament id")
		hidden := fs.Bool("hidden", false, "hide the tournament's finished games from the site")
		fs.Parse(os.Args[2:])
		if *tournament == "" {
			fs.Usage()
			os.Exit(2)
		}
		addTournament(ctx, cfg, cat, *tournament, *hidden)
	default:
		usage()
	}
}

func listTournaments(ctx context.Context, cat *catalog.Client) {
	tournaments, err := cat.ListTournaments(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list tournaments")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "TOURNAMENT\tROUND\tROUND ID\tSTATE")
	for _, t := range tournaments {
		for _, r := range t.Rounds {
			state := "scheduled"
			if r.Finished {
				state = "finished"
			} else if r.Ongoing {
				state = "live"
			}
			fmt.Fprintf(w, "%s (%s)\t%s\t%s\t%s\n", t.Tour.Name, t.Tour.ID, r.Name, r.ID, state)
		}
	}
	w.Flush()
}

func listBoards(ctx context.Context, cat *catalog.Client, roundID string) {
	rb, err := cat.GetRoundBoards(ctx, roundID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list boards")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "BOARD\tNAME\tSTATUS")
	for _, g := range rb.Games {
		fmt.Fprintf(w, "%s\t%s\t%s\n", g.ID, g.Name, g.Status)
	}
	w.Flush()
}

func addTournament(ctx context.Context, cfg *config.Config, cat *catalog.Client, tournamentID string, hidden bool) {
	t, err := cat.GetTournament(ctx, tournamentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to fetch tournament")
	}

	st, err := store.Open(ctx, cfg.DB.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer st.Close()
	if err := st.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database schema")
	}

	id, err := st.CreateTournament(ctx, &store.Tournament{
		ExtID:    tournamentID,
		Name:     t.Tour.Name,
		IsHidden: hidden,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to store tournament")
	}
	fmt.Printf("following %s with %d rounds (id %d)\n", t.Tour.Name, len(t.Rounds), id)
}
