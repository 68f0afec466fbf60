package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"notefiber-collab/internal/document"
	"notefiber-collab/internal/editor"
	"notefiber-collab/internal/model"
	"notefiber-collab/internal/translator"
	"notefiber-collab/pkg/crdt"
	"notefiber-collab/pkg/database"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
)

// inspect prints the block tree of a stored document, or of an update file.
//
//	go run ./cmd/inspect -doc <document id>
//	go run ./cmd/inspect -file update.json
func main() {
	docID := flag.String("doc", "", "document id to load from the database")
	file := flag.String("file", "", "encoded update to load instead")
	flag.Parse()

	doc := crdt.NewDoc()
	switch {
	case *file != "":
		update, err := os.ReadFile(*file)
		if err != nil {
			log.Fatal("Error: Failed to read update file:", err)
		}
		if err := doc.ApplyUpdate(update, crdt.Remote); err != nil {
			log.Fatal("Error: Update cannot be applied:", err)
		}
	case *docID != "":
		loadFromDatabase(doc, *docID)
	default:
		flag.Usage()
		os.Exit(2)
	}

	m := document.NewModel(doc)
	rootID, err := m.GetRoot()
	if err != nil {
		log.Fatal("Error: Document has no root page:", err)
	}
	root, err := translator.BuildNode(m, rootID)
	if err != nil {
		log.Fatal("Error: Failed to read block tree:", err)
	}

	color.Cyan("🔍 INSPECTING DOCUMENT (%d pending changes)\n", doc.PendingCount())
	printNode(root, 0)
}

func loadFromDatabase(doc *crdt.Doc, documentID string) {
	if err := godotenv.Load(); err != nil {
		log.Println("Info: No .env file found, using system env")
	}
	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}
	db, err := database.NewGormDBFromDSN(dsn)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	var rows []model.DocumentUpdate
	if err := db.Where("document_id = ?", documentID).Order("seq ASC").Find(&rows).Error; err != nil {
		log.Fatal("Error: Failed to read update log:", err)
	}
	if len(rows) == 0 {
		log.Fatalf("Error: No updates stored for %s", documentID)
	}
	for _, row := range rows {
		if err := doc.ApplyUpdate(row.Payload, crdt.Remote); err != nil {
			color.Red("seq %d cannot be applied: %v", row.Seq, err)
		}
	}
	fmt.Printf("Replayed %d rows\n", len(rows))
}

func printNode(n *editor.Node, depth int) {
	indent := strings.Repeat("  ", depth)
	label := color.New(color.FgYellow).Sprint(n.Type)
	id := color.New(color.FgHiBlack).Sprint(n.ID)
	line := fmt.Sprintf("%s%s %s", indent, label, id)
	if len(n.Data) > 0 {
		line += " " + color.New(color.FgMagenta).Sprint(n.Data)
	}
	if n.TextID != "" {
		line += " " + color.GreenString("%q", n.Text.PlainText())
	}
	fmt.Println(line)
	for _, c := range n.Children {
		printNode(c, depth+1)
	}
}
