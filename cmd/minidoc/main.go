package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/RichardKnop/minidoc"
	"github.com/RichardKnop/minidoc/internal/pkg/logging"
)

const cliName string = "minidoc"

func printPrompt(collection string) {
	fmt.Printf("%s (%s)> ", cliName, collection)
}

type metaCommand int

const (
	Unknown metaCommand = iota + 1
	Help
	Exit
	ListCollections
)

func isMetaCommand(inputBuffer string) bool {
	return len(inputBuffer) > 0 && inputBuffer[:1] == "."
}

func doMetaCommand(inputBuffer string) metaCommand {
	switch strings.ToLower(inputBuffer) {
	case "help":
		return Help
	case "exit":
		return Exit
	case "collections":
		return ListCollections
	default:
		return Unknown
	}
}

func printHelp() {
	fmt.Println(".help                  - Show available commands")
	fmt.Println(".exit                  - Closes program")
	fmt.Println(".collections           - List all collections")
	fmt.Println("use <collection>       - Switch the active collection")
	fmt.Println("insert <json>          - Insert a document")
	fmt.Println("get <id>               - Get a document by its _id")
	fmt.Println("find <field> <value>   - Find documents by an indexed field")
	fmt.Println("all                    - List all documents")
	fmt.Println("update <json>          - Replace the document with the same _id")
	fmt.Println("delete <id>            - Delete a document by its _id")
	fmt.Println("index <field> [unique] - Create an index on a field")
	fmt.Println("dropindex <field>      - Drop the index on a field")
	fmt.Println("drop                   - Drop the active collection")
}

const defaultDbFileName = "minidoc.db"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	logger, err := logging.New(logging.Config{
		Level:      level,
		Format:     "console",
		OutputFile: "stderr",
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() // flushes buffer, if any

	dbFileName := defaultDbFileName
	if len(os.Args) > 1 {
		dbFileName = os.Args[1]
	}

	db, err := minidoc.Open(ctx, dbFileName, minidoc.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)

	go func() {
		defer wg.Done()

		collection := "default"
		reader := bufio.NewScanner(os.Stdin)
		printPrompt(collection)

		// REPL (Read-eval-print loop) start
		for reader.Scan() {
			if ctx.Err() != nil {
				break
			}

			inputBuffer := strings.TrimSpace(reader.Text())
			if isMetaCommand(inputBuffer) {
				switch doMetaCommand(inputBuffer[1:]) {
				case Help:
					printHelp()
				case Exit:
					// Return exits with code 0 by default, os.Exit(0)
					// would exit immediately without any defers
					return
				case ListCollections:
					names, err := db.ListCollections(ctx)
					if err != nil {
						fmt.Printf("Error: %s\n", err)
					}
					for _, name := range names {
						fmt.Println(name)
					}
				case Unknown:
					fmt.Printf("Unrecognized meta command: %s\n", inputBuffer)
				}
			} else if inputBuffer != "" {
				collection = execute(ctx, db, collection, inputBuffer)
			}
			printPrompt(collection)
		}
		// Print an additional line if we encountered an EOF character
		fmt.Println()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if err := db.Close(); err != nil {
		fmt.Printf("error closing database: %s\n", err)
	}

	cancel()

	wg.Wait()
}

// execute runs one REPL command and returns the possibly changed active
// collection name.
func execute(ctx context.Context, db *minidoc.DB, collection, inputBuffer string) string {
	command, rest, _ := strings.Cut(inputBuffer, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(command) {
	case "use":
		if rest == "" {
			fmt.Println("Usage: use <collection>")
			return collection
		}
		return rest
	case "insert":
		doc, err := documentFromJSON(rest)
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		stored, err := db.Insert(ctx, collection, doc)
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		fmt.Printf("Inserted document with _id %v\n", stored.ID())
	case "get":
		doc, err := db.Get(ctx, collection, parseScalar(rest))
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		printDocument(doc)
	case "find":
		field, value, ok := strings.Cut(rest, " ")
		if !ok {
			fmt.Println("Usage: find <field> <value>")
			return collection
		}
		docs, err := db.Find(ctx, collection, field, parseScalar(strings.TrimSpace(value)))
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		for _, doc := range docs {
			printDocument(doc)
		}
		fmt.Printf("%d document(s)\n", len(docs))
	case "all":
		docs, err := db.FindAll(ctx, collection)
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		for _, doc := range docs {
			printDocument(doc)
		}
		fmt.Printf("%d document(s)\n", len(docs))
	case "update":
		doc, err := documentFromJSON(rest)
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		if err := db.Update(ctx, collection, doc); err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		fmt.Println("Updated")
	case "delete":
		if err := db.Delete(ctx, collection, parseScalar(rest)); err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		fmt.Println("Deleted")
	case "index":
		field, modifier, _ := strings.Cut(rest, " ")
		if field == "" {
			fmt.Println("Usage: index <field> [unique]")
			return collection
		}
		unique := strings.EqualFold(strings.TrimSpace(modifier), "unique")
		if err := db.EnsureIndex(ctx, collection, field, unique); err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		fmt.Println("Index created")
	case "dropindex":
		if err := db.DropIndex(ctx, collection, rest); err != nil {
			fmt.Printf("Error: %s\n", err)
			return collection
		}
		fmt.Println("Index dropped")
	case "drop":
		if err := db.DropCollection(ctx, collection); err != nil {
			fmt.Printf("Error: %s\n", err)
		}
		return "default"
	default:
		fmt.Printf("Unrecognized command: %s\n", command)
	}

	return collection
}

// documentFromJSON converts a JSON object into a document. JSON numbers
// become int64 when they have no fractional part.
func documentFromJSON(input string) (*minidoc.Document, error) {
	var raw map[string]any
	decoder := json.NewDecoder(strings.NewReader(input))
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	doc := minidoc.NewDocument()
	for name, value := range raw {
		converted, err := convertJSONValue(value)
		if err != nil {
			return nil, err
		}
		doc.Set(name, converted)
	}
	return doc, nil
}

func convertJSONValue(value any) (any, error) {
	switch v := value.(type) {
	case nil, bool, string:
		return v, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		return v.Float64()
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			converted, err := convertJSONValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return items, nil
	case map[string]any:
		doc := minidoc.NewDocument()
		for name, item := range v {
			converted, err := convertJSONValue(item)
			if err != nil {
				return nil, err
			}
			doc.Set(name, converted)
		}
		return doc, nil
	default:
		return nil, fmt.Errorf("unsupported JSON value type %T", value)
	}
}

// parseScalar interprets a REPL argument as JSON scalar, falling back to
// a plain string. UUID formatted strings become UUID values so generated
// identities can be pasted back in.
func parseScalar(input string) any {
	if id, err := uuid.Parse(input); err == nil {
		return id
	}
	value, err := convertJSONValue(jsonScalar(input))
	if err != nil {
		return input
	}
	return value
}

func jsonScalar(input string) any {
	decoder := json.NewDecoder(strings.NewReader(input))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return input
	}
	switch value.(type) {
	case map[string]any, []any:
		return input
	}
	return value
}

func printDocument(doc *minidoc.Document) {
	parts := make([]string, 0, doc.Len())
	for _, name := range doc.Fields() {
		value, _ := doc.Get(name)
		parts = append(parts, fmt.Sprintf("%s: %v", name, value))
	}
	fmt.Printf("{%s}\n", strings.Join(parts, ", "))
}
