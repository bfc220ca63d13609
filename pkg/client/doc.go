// Package client is the Go SDK for the triage audit ledger HTTP API.
//
// Mutating calls are attributed to the identity inside the bearer caller
// token. Operators holding the bootstrap admin secret can mint one:
//
//	c, _ := client.New("https://ledger.example.org")
//	tok, err := c.MintToken(ctx, adminSecret, "clinician-7")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c.SetToken(tok.Token)
//
// Records are only ever described by fingerprint. Hash the payload locally
// with pkg/fingerprint and send the digest:
//
//	sum, _ := fingerprint.SumJSON(observation)
//	ev, err := c.CreateRecord(ctx, "Observation/42", fingerprint.Hex(sum), "patient-9")
//
// Ledger rejections come back as *APIError carrying the stable error code:
//
//	if client.IsCode(err, "RecordAlreadyExists") {
//	    // already filed
//	}
//
// Lookups and event replay need no token:
//
//	page, _ := c.Events(ctx, client.EventQuery{ResourceID: "Observation/42"})
//	for _, ev := range page.Events {
//	    fmt.Println(ev.Seq, ev.Kind, ev.Actor)
//	}
package client
