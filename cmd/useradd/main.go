// Command useradd creates an account interactively, e.g. the first super
// admin. It reads the same configuration as the server.
package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"

	"github.com/dmitrijs2005/authkeeper/internal/admincli"
	"github.com/dmitrijs2005/authkeeper/internal/server"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/config"
	"github.com/dmitrijs2005/authkeeper/internal/server/services"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.UsesMemoryStore() {
		log.Fatal(errors.New("useradd needs a persistent database, not the memory store"))
	}

	storage, err := server.OpenStorage(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer storage.Close()

	users := services.NewUserService(storage.Conn, storage.Manager, auth.NewHasher(cfg.BcryptCost))

	if _, err := admincli.UserAdd(ctx, bufio.NewReader(os.Stdin), os.Stdout, users); err != nil {
		log.Printf("%v", err)
		storage.Close()
		os.Exit(1)
	}
}
