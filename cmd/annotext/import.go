package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"annotext/internal/config"
	"annotext/internal/store"
	"annotext/internal/util"
)

// editionFile is the YAML layout accepted by the import command.
type editionFile struct {
	Text    string `yaml:"text"`
	Title   string `yaml:"title"`
	Edition struct {
		Num     int    `yaml:"num"`
		Title   string `yaml:"title"`
		Primary bool   `yaml:"primary"`
	} `yaml:"edition"`
	Lines []struct {
		TOC  string `yaml:"toc"`
		Enum string `yaml:"enum"`
		Line string `yaml:"line"`
	} `yaml:"lines"`
	Tags []struct {
		Tag         string `yaml:"tag"`
		Description string `yaml:"description"`
		Locked      bool   `yaml:"locked"`
	} `yaml:"tags"`
}

func (f editionFile) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Text, validation.Required, validation.By(func(any) error {
			if strings.ContainsAny(f.Text, "/?#") {
				return fmt.Errorf("must not contain '/', '?' or '#'")
			}
			return nil
		})),
		validation.Field(&f.Title, validation.Required),
		validation.Field(&f.Lines, validation.Required),
	)
}

type importSet struct {
	text    store.Text
	edition store.Edition
	lines   []store.Line
	tags    []store.Tag
}

// parseEditionFile turns the YAML document into rows. Lines are numbered from
// 1 in file order; a missing enum means a plain line.
func parseEditionFile(data []byte) (importSet, error) {
	var file editionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return importSet{}, fmt.Errorf("parse edition file: %w", err)
	}
	if err := file.Validate(); err != nil {
		return importSet{}, fmt.Errorf("invalid edition file: %w", err)
	}

	set := importSet{
		text: store.Text{ID: util.NewID("txt"), URL: file.Text, Title: file.Title},
		edition: store.Edition{
			ID:        util.NewID("ed"),
			TextURL:   file.Text,
			Num:       max(file.Edition.Num, 1),
			Title:     file.Edition.Title,
			IsPrimary: file.Edition.Primary,
			LineCount: len(file.Lines),
		},
	}
	if set.edition.Title == "" {
		set.edition.Title = file.Title
	}
	for i, line := range file.Lines {
		enum := line.Enum
		if enum == "" {
			enum = "l"
		}
		set.lines = append(set.lines, store.Line{
			EditionID: set.edition.ID,
			Num:       i + 1,
			TOC:       line.TOC,
			Enum:      enum,
			Text:      line.Line,
		})
	}
	for _, tag := range file.Tags {
		name := strings.TrimSpace(tag.Tag)
		if name == "" || strings.ContainsAny(name, " \t") {
			return importSet{}, fmt.Errorf("invalid tag name %q", tag.Tag)
		}
		set.tags = append(set.tags, store.Tag{
			ID:          util.NewID("tag"),
			Name:        name,
			Description: tag.Description,
			Locked:      tag.Locked,
		})
	}
	return set, nil
}

func importEdition(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return usageError(cmd, "expected one edition file")
	}
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	data, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("read edition file: %w", err)
	}
	set, err := parseEditionFile(data)
	if err != nil {
		return err
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	dataStore := store.NewPostgresStore(database)
	if err := dataStore.ImportEdition(ctx, set.text, set.edition, set.lines); err != nil {
		return err
	}
	if err := dataStore.UpsertTags(ctx, set.tags); err != nil {
		return err
	}
	logger.Info("edition imported",
		"text", set.text.URL,
		"edition", set.edition.Num,
		"lines", len(set.lines),
		"tags", len(set.tags),
	)

	searchService, closeSearch := newSearch(cfg, database)
	defer closeSearch()
	return searchService.ReindexAll(ctx)
}
