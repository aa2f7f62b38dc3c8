// Command notify-server is a local receiver for rdeploy's --notify-url, for
// trying the notifier without a real webhook.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

func main() {
	addr := flag.String("listen", ":3000", "listen address")
	flag.Parse()

	mux := http.NewServeMux()

	mux.HandleFunc("POST /deploys", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		var payload struct {
			RunID     string `json:"run_id"`
			Outcome   string `json:"outcome"`
			Succeeded int    `json:"succeeded"`
			Total     int    `json:"total"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			log.Printf("[notify] bad payload: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		log.Printf("[notify] run %s %s (%d/%d hosts)", payload.RunID, payload.Outcome, payload.Succeeded, payload.Total)
		log.Printf("[notify] %s", prettyJSON(body))
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	})

	log.Printf("notify server listening on %s (POST /deploys)", *addr)
	log.Fatal(http.ListenAndServe(*addr, mux))
}

func prettyJSON(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
