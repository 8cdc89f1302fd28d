package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/cardvault/internal/card"
	"github.com/hpungsan/cardvault/internal/container"
	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/ops"
	"github.com/hpungsan/cardvault/internal/rewrite"
	"github.com/hpungsan/cardvault/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(deps *ops.Deps) *cli.App {
	app := &cli.App{
		Name:    "cardvault",
		Usage:   "Character card and chat transcript store",
		Version: Version,
		Commands: []*cli.Command{
			ingestCmd(deps),
			fetchCmd(deps),
			listCmd(deps),
			historyCmd(deps),
			deleteCmd(deps),
			rulesCmd(deps),
			sessionCmd(deps),
			pageCmd(deps),
			parseCmd(deps),
			inspectCmd(),
			serveCmd(deps),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// ingestCmd creates the ingest command.
func ingestCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Ingest a card from a PNG or JSON file",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "card-id", Usage: "Supersede this card with the new file"},
			&cli.StringFlag{Name: "content-type", Usage: "image/png or application/json (default: from the file)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("file argument is required"))
			}
			path := c.Args().First()
			data, err := ops.ReadUploadFile(path)
			if err != nil {
				return outputError(err)
			}

			output, err := ops.IngestCard(c.Context, deps, ops.IngestInput{
				CardID:      c.String("card-id"),
				FileName:    filepath.Base(path),
				ContentType: c.String("content-type"),
				Data:        data,
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a card by ID",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted cards"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.FetchCard(deps.DB, ops.FetchCardInput{
				ID:             c.Args().First(),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// listCmd creates the list command.
func listCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List cards, most recently updated first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Pagination offset"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListCards(deps.DB, ops.ListCardsInput{
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// historyCmd creates the history command.
func historyCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List the superseded versions of a card",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.CardHistory(deps.DB, ops.CardHistoryInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Soft-delete a card",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := ops.DeleteCard(deps.DB, ops.DeleteCardInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// rulesCmd creates the rules command group.
func rulesCmd(deps *ops.Deps) *cli.Command {
	scopeFlags := func() []cli.Flag {
		return []cli.Flag{
			&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Value: string(rewrite.ScopeGlobal), Usage: "global|card-builtin|card-display"},
			&cli.StringFlag{Name: "card-id", Usage: "Card ID for card scopes"},
		}
	}

	return &cli.Command{
		Name:  "rules",
		Usage: "Manage regex rewrite rules",
		Subcommands: []*cli.Command{
			{
				Name:  "get",
				Usage: "Show the rules of one scope",
				Flags: scopeFlags(),
				Action: func(c *cli.Context) error {
					output, err := ops.GetRules(deps.DB, ops.RulesInput{
						Scope:  rewrite.Scope(c.String("scope")),
						CardID: c.String("card-id"),
					})
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
			{
				Name:      "set",
				Usage:     "Replace the rules of one scope from a JSON or YAML file",
				ArgsUsage: "<file>",
				Flags:     scopeFlags(),
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("rules file argument is required"))
					}
					rules, err := loadRulesFile(c.Args().First())
					if err != nil {
						return outputError(err)
					}

					output, err := ops.SetRules(deps.DB, ops.SetRulesInput{
						RulesInput: ops.RulesInput{
							Scope:  rewrite.Scope(c.String("scope")),
							CardID: c.String("card-id"),
						},
						Rules: rules,
					})
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
		},
	}
}

// sessionCmd creates the session command group.
func sessionCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage chat transcripts attached to cards",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Upload a transcript file for a card",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "card-id", Required: true, Usage: "Card ID"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 {
						return outputError(errors.NewInvalidRequest("file argument is required"))
					}
					path := c.Args().First()
					data, err := ops.ReadUploadFile(path)
					if err != nil {
						return outputError(err)
					}

					output, err := ops.AddSession(c.Context, deps, ops.AddSessionInput{
						CardID:   c.String("card-id"),
						FileName: filepath.Base(path),
						Data:     data,
					})
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
			{
				Name:  "list",
				Usage: "List a card's sessions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "card-id", Required: true, Usage: "Card ID"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Max results"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Pagination offset"},
				},
				Action: func(c *cli.Context) error {
					output, err := ops.ListSessions(deps.DB, ops.ListSessionsInput{
						CardID: c.String("card-id"),
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a session and its stored transcript",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					output, err := ops.DeleteSession(c.Context, deps, c.Args().First())
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
			{
				Name:      "url",
				Usage:     "Print a time-limited download URL for a transcript",
				ArgsUsage: "<session-id>",
				Action: func(c *cli.Context) error {
					output, err := ops.PresignSession(c.Context, deps, c.Args().First())
					if err != nil {
						return outputError(err)
					}

					return outputJSON(output)
				},
			},
		},
	}
}

// pageCmd creates the page command.
func pageCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "page",
		Usage:     "Read one rendered page of a stored transcript",
		ArgsUsage: "<session-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "1-based page"},
			&cli.IntFlag{Name: "page-size", Usage: "Records per page (default from config)"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ReadTranscriptPage(c.Context, deps, ops.PageInput{
				SessionID: c.Args().First(),
				Page:      c.Int("page"),
				PageSize:  c.Int("page-size"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// parseCmd creates the parse command.
func parseCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "parse",
		Usage:     "Parse a transcript file (or stdin) and print one rendered page",
		ArgsUsage: "[file]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "card-id", Usage: "Card whose rules apply"},
			&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "1-based page"},
			&cli.IntFlag{Name: "page-size", Usage: "Records per page (default from config)"},
		},
		Action: func(c *cli.Context) error {
			var text, fileName string
			if c.NArg() > 0 {
				path := c.Args().First()
				data, err := ops.ReadUploadFile(path)
				if err != nil {
					return outputError(err)
				}
				text, fileName = string(data), filepath.Base(path)
			} else {
				if !stdinHasData() {
					return outputError(errors.NewInvalidRequest("transcript must be a file argument or piped via stdin"))
				}
				data, err := readStdin(ops.MaxUploadBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				text = data
			}

			output, err := ops.ParseTranscript(c.Context, deps, ops.ParseInput{
				Text:     text,
				FileName: fileName,
				CardID:   c.String("card-id"),
				Page:     c.Int("page"),
				PageSize: c.Int("page-size"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// inspectChunk describes one container chunk.
type inspectChunk struct {
	Type    string `json:"type"`
	Size    int    `json:"size"`
	Keyword string `json:"keyword,omitempty"`
}

// inspectOutput is the result of the inspect command.
type inspectOutput struct {
	Kind   card.Kind      `json:"kind"`
	Chunks []inspectChunk `json:"chunks,omitempty"`
	Card   *card.Card     `json:"card"`
}

// inspectCmd creates the inspect command. Nothing is stored.
func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show a card file's container chunks and normalized card without storing it",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return outputError(errors.NewInvalidRequest("file argument is required"))
			}
			path := c.Args().First()
			data, err := ops.ReadUploadFile(path)
			if err != nil {
				return outputError(err)
			}

			output, err := inspect(data, filepath.Base(path))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

func inspect(data []byte, fileName string) (*inspectOutput, error) {
	kind, err := card.KindFromContentType("", fileName, data)
	if err != nil {
		return nil, err
	}
	output := &inspectOutput{Kind: kind}

	if kind == card.KindImage {
		chunks, err := container.Chunks(data)
		if err != nil {
			return nil, err
		}
		for _, ch := range chunks {
			ic := inspectChunk{Type: ch.Type, Size: len(ch.Payload)}
			if ch.Type == "tEXt" {
				if i := bytes.IndexByte(ch.Payload, 0); i >= 0 {
					ic.Keyword = string(ch.Payload[:i])
				}
			}
			output.Chunks = append(output.Chunks, ic)
		}
	}

	parsed, err := card.Parse(data, kind)
	if err != nil {
		return nil, err
	}
	output.Card = parsed
	return output, nil
}

// serveCmd creates the serve command.
func serveCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8484, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(deps, c.String("bind"), c.Int("port"))
			if err := web.Run(srv, deps.Logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// loadRulesFile reads rules from a JSON or YAML file holding either a list of
// rules or an object with a "rules" list.
func loadRulesFile(path string) ([]rewrite.Rule, error) {
	data, err := ops.ReadUploadFile(path)
	if err != nil {
		return nil, err
	}

	// YAML is a superset of JSON, so one conversion covers both formats.
	js, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("rules file is not valid JSON or YAML: %v", err))
	}
	js = bytes.TrimSpace(js)

	if bytes.HasPrefix(js, []byte("[")) {
		var rules []rewrite.Rule
		if err := json.Unmarshal(js, &rules); err != nil {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid rules list: %v", err))
		}
		return rules, nil
	}

	var doc struct {
		Rules []rewrite.Rule `json:"rules"`
	}
	if err := json.Unmarshal(js, &doc); err != nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid rules document: %v", err))
	}
	return doc.Rules, nil
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if vErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", vErr.Code, vErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads up to limit bytes from stdin.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return string(data), nil
}
