// Package tdkit is a toolkit for W3C Web of Things Thing Descriptions (TDs)
// and Thing Models (TMs).
//
// # Core Concepts
//
//   - Parsing: td.Parse decodes a TD and applies the TD defaults
//   - Canonicalization: canonical.Canonicalize produces a deterministic form
//     used for comparison and signing
//   - Composition: thingmodel.Composer turns a Thing Model, including
//     tm:extends, tm:ref and tm:submodel links, into partial TDs
//   - Directory: directory.Directory registers TDs in memory or in etcd and
//     answers free-text and CEL queries
//
// The Toolkit type wires these together with the resolver chain (file and
// HTTP fetches, optionally cached in Redis), OpenTelemetry tracing and slog
// logging.
//
// # Getting Started
//
//	kit, err := tdkit.New(tdkit.WithDirectoryStore(directory.NewMemoryStore()))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer kit.Close()
//
//	tds, err := kit.PartialTDsFromURI(ctx, "file://models/lamp.tm.json", &thingmodel.CompositionOptions{
//		BaseURL: "http://example.com/things",
//		Map:     map[string]any{"SERIAL": "1234"},
//	})
//
// # Configuration
//
// NewFromConfig builds a Toolkit from a tdkit.yaml file loaded with
// config.Load. TDKIT_REDIS_URL and TDKIT_DIRECTORY_ENDPOINTS override the file.
//
// # Errors
//
// Failures are *tderr.Error values that match the tderr sentinels with
// errors.Is.
package tdkit
