// Command seal-verify re-hashes sealed session containers and compares
// them against their recorded digests. With -db the outcome of every
// check is also recorded as an integrity audit in the session catalog.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hydrolab-data/seastate/internal/sealstore"
	"github.com/hydrolab-data/seastate/internal/session"
)

func main() {
	dbFile := flag.String("db", "", "session catalog to record audits in")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		log.Fatal("Usage: seal-verify [-db catalog.db] container.ssc ...")
	}

	var catalog *session.Catalog
	if *dbFile != "" {
		var err error
		catalog, err = session.Open(*dbFile)
		if err != nil {
			log.Fatalf("Failed to open session catalog: %v", err)
		}
		defer catalog.Close()
		if err := catalog.MigrateUp(); err != nil {
			log.Fatalf("Failed to migrate session catalog: %v", err)
		}
	}

	failed := 0
	for _, path := range paths {
		err := sealstore.VerifyFile(path)
		status := session.AuditStatus(err)
		detail := ""
		if err != nil {
			detail = err.Error()
			failed++
			fmt.Printf("✗ %s: %s (%v)\n", path, status, err)
		} else {
			fmt.Printf("✓ %s: %s\n", path, status)
		}

		if catalog != nil {
			audit := session.AuditRecord{
				ContainerPath: path,
				Status:        status,
				Detail:        detail,
				AuditedNs:     time.Now().UnixNano(),
			}
			if err := catalog.RecordAudit(audit); err != nil {
				log.Printf("failed to record audit for %s: %v", path, err)
			}
		}
	}

	if failed > 0 {
		fmt.Printf("%d of %d containers failed verification\n", failed, len(paths))
		os.Exit(1)
	}
}
