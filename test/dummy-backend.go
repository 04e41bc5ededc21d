// Command dummy-backend serves fake DVLA, tyre fitment and form relay
// endpoints for running the API locally without real credentials.
//
//	DVLA_URL=http://localhost:3001/dvla ONEAUTO_URL=http://localhost:3001/tyres \
//	DVLA_API_KEY=dev ONEAUTO_API_KEY=dev WEB3FORMS_URL=http://localhost:3001/email \
//	WEB3FORMS_KEY=dev tyre-api serve
package main

import (
	"net/http"
	"os"
	"time"

	"github.com/ossettyres/tyre-api/internal/logging"
	"github.com/ossettyres/tyre-api/internal/upstream/upstreamtest"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.Setup("info", "development")

	addr := ":3001"
	if port := os.Getenv("DUMMY_PORT"); port != "" {
		addr = ":" + port
	}

	fake := upstreamtest.New().Handler()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Info().Str("method", r.Method).Str("path", r.URL.Path).Msg("received request")
		fake.ServeHTTP(w, r)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("dummy backend starting")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("dummy backend stopped")
	}
}
