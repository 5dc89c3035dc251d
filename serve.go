package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/thehowl/tersetrace/pkg/db"
	httpserver "github.com/thehowl/tersetrace/pkg/http"
	"github.com/thehowl/tersetrace/pkg/storage"
	"go.etcd.io/bbolt"
)

type serveOptions struct {
	compactorFlags

	listenAddr     string
	publicURL      string
	dbFile         string
	s3Endpoint     string
	s3AccessKey    string
	s3AccessSecret string
	s3Bucket       string
	s3Insecure     bool
	cacheSize      string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server, storing uploaded traces",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(serveOpts)
	},
}

func init() {
	fs := serveCmd.Flags()
	stringVar(fs, &serveOpts.listenAddr, "listen-addr", ":18845", "listen address for the web server")
	stringVar(fs, &serveOpts.publicURL, "public-url", "localhost:18845", "url for the server, used in the curl example")
	stringVar(fs, &serveOpts.dbFile, "db-file", "data/db.bolt", "the file used for the database. "+
		"this will be a cache (if used together with s3) or the permanent database")
	stringVar(fs, &serveOpts.s3Endpoint, "s3-endpoint", "", "s3 endpoint")
	stringVar(fs, &serveOpts.s3AccessKey, "s3-access-key", "", "s3 access key")
	stringVar(fs, &serveOpts.s3AccessSecret, "s3-access-secret", "", "s3 access secret")
	stringVar(fs, &serveOpts.s3Bucket, "s3-bucket", "", "s3 bucket")
	boolVar(fs, &serveOpts.s3Insecure, "s3-insecure", false, "connect to the s3 endpoint over plain http")
	stringVar(fs, &serveOpts.cacheSize, "cache-size", "256MB", "maximum size of the traces cached in db-file when using s3")
	serveOpts.compactorFlags.register(fs)
}

func runServe(opts serveOptions) error {
	// Set up database.
	if err := os.MkdirAll(filepath.Dir(opts.dbFile), 0o755); err != nil {
		return err
	}
	bdb, err := bbolt.Open(opts.dbFile, 0o600, nil)
	if err != nil {
		return fmt.Errorf("db open error: %w", err)
	}
	defer bdb.Close()

	var st storage.Storage
	if opts.s3Endpoint == "" {
		st = storage.NewDBStorage(bdb, []byte("storage"))
	} else {
		cacheSize, err := humanize.ParseBytes(opts.cacheSize)
		if err != nil {
			return fmt.Errorf("invalid cache size: %w", err)
		}
		s3, err := storage.NewS3Storage(storage.S3Options{
			Endpoint:     opts.s3Endpoint,
			AccessKey:    opts.s3AccessKey,
			AccessSecret: opts.s3AccessSecret,
			Bucket:       opts.s3Bucket,
			Insecure:     opts.s3Insecure,
		})
		if err != nil {
			return err
		}
		st, err = storage.NewCachedStorage(storage.NewDBStorage(bdb, []byte("cache")), s3, cacheSize)
		if err != nil {
			return fmt.Errorf("cache init error: %w", err)
		}
	}

	srv := &httpserver.Server{
		PublicURL: opts.publicURL,
		Storage:   st,
		DB:        &db.DB{DB: bdb},
		Compactor: opts.compactor(),
	}

	log.Println("listening on", opts.listenAddr)
	return http.ListenAndServe(opts.listenAddr, srv.Router())
}
