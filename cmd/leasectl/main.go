package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"mvlease/internal/index"
	"mvlease/internal/lease"
	"mvlease/internal/leasestore"
	"mvlease/internal/leasestore/remote"
)

const defaultAddr = "127.0.0.1:7070"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "list":
		listCmd(os.Args[2:])
	case "get":
		getCmd(os.Args[2:])
	case "status":
		statusCmd(os.Args[2:])
	case "delete":
		deleteCmd(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `mvlease lease store CLI

Usage:
  leasectl list   --addr <host:port>
  leasectl get    --addr <host:port> --id <index id>
  leasectl status --addr <host:port> --id <index id> --version <definition version>
  leasectl delete --addr <host:port> --id <index id>
`)
}

func dial(addr string) *remote.Client {
	client, err := remote.Dial(addr, remote.DefaultCallTimeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial error: %v\n", err)
		os.Exit(1)
	}
	return client
}

func requireID(id string) {
	if id == "" {
		fmt.Fprintln(os.Stderr, "--id is required")
		os.Exit(1)
	}
	if _, err := index.ParseID(id); err != nil {
		fmt.Fprintf(os.Stderr, "invalid --id: %v\n", err)
		os.Exit(1)
	}
}

func fetch(ctx context.Context, client *remote.Client, id string) lease.Lease {
	doc, found, err := client.FindOne(ctx, leasestore.ByID(id), leasestore.LinearizablePrimary())
	if err != nil {
		fmt.Fprintf(os.Stderr, "get error: %v\n", err)
		os.Exit(1)
	}
	if !found {
		fmt.Println("(not found)")
		os.Exit(0)
	}
	l, err := lease.FromDocument(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "malformed lease %s: %v\n", id, err)
		os.Exit(1)
	}
	return l
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "lease store address")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := dial(*addr)
	defer client.Close()

	docs, err := client.Find(ctx, leasestore.All(), leasestore.LinearizablePrimary())
	if err != nil {
		fmt.Fprintf(os.Stderr, "list error: %v\n", err)
		os.Exit(1)
	}
	if len(docs) == 0 {
		fmt.Println("(no leases)")
		return
	}
	byID := make(map[string]lease.Lease, len(docs))
	for _, doc := range docs {
		l, err := lease.FromDocument(doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping malformed lease %s: %v\n", doc.ID, err)
			continue
		}
		byID[l.ID] = l
	}
	ids := maps.Keys(byID)
	slices.Sort(ids)
	for _, id := range ids {
		l := byID[id]
		fmt.Printf("id=%s version=%d host=%s collection=%s latest=%s\n",
			l.ID, l.LeaseVersion, l.Hostname, l.LastObservedCollectionName, l.LatestVersion)
	}
}

func getCmd(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "lease store address")
	id := fs.String("id", "", "index id (hex)")
	_ = fs.Parse(args)
	requireID(*id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := dial(*addr)
	defer client.Close()

	fmt.Println(fetch(ctx, client, *id).String())
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "lease store address")
	id := fs.String("id", "", "index id (hex)")
	version := fs.String("version", "", "index definition version")
	_ = fs.Parse(args)
	requireID(*id)
	v, err := strconv.ParseInt(*version, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --version: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := dial(*addr)
	defer client.Close()

	st, found := fetch(ctx, client, *id).ResolveFor(index.VersionKey(v))
	if !found {
		fmt.Fprintf(os.Stderr, "version %d is not tracked by lease %s\n", v, *id)
	}
	fmt.Println(st.String())
}

func deleteCmd(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	addr := fs.String("addr", defaultAddr, "lease store address")
	id := fs.String("id", "", "index id (hex)")
	_ = fs.Parse(args)
	requireID(*id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := dial(*addr)
	defer client.Close()

	deleted, err := client.DeleteOne(ctx, leasestore.ByID(*id))
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete error: %v\n", err)
		os.Exit(1)
	}
	if deleted == 0 {
		fmt.Println("(not found)")
		return
	}
	fmt.Println("OK")
}
