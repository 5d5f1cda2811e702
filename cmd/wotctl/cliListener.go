package main

import (
	"fmt"

	"github.com/eiannone/keyboard"

	"trustgraph/engine/actors"
)

// cliListener is a cheap and nasty way to speed up development cycles.
// It listens for keypresses and dumps whatever part of the live state
// they ask for.
func cliListener(a *app, interrupt chan struct{}) {
	fmt.Println("VIEW CURRENT STATE:\ni: identities\nt: trusts\ns: scores\no: own identities\nj: queue/engine stats\nq: quit")
	for {
		r, k, err := keyboard.GetSingleKey()
		if err != nil {
			panic(err)
		}
		str := string(r)
		switch str {
		default:
			if k == 13 {
				fmt.Println("\n-----------------------------------")
				break
			}
			if r == 0 {
				break
			}
			fmt.Println("Key " + str + " is not bound to any inspector view. See cliListener.go for more details.")
		case "q":
			close(interrupt)
			return
		case "i":
			for _, ident := range a.store.AllIdentities() {
				fmt.Printf("\nID: %s\nEdition: %d FetchState: %s EditionHint: %d\nNickname: %v PublishesTrustList: %v\n",
					ident.ID, ident.Edition, ident.FetchState, ident.EditionHint, ident.Nickname, ident.PublishesTrustList)
			}
		case "t":
			for _, t := range a.store.AllTrusts() {
				fmt.Printf("\n%s -> %s : %d (%s)\n", t.Truster, t.Trustee, t.Value, t.Comment)
			}
		case "s":
			for _, sc := range a.store.AllScores() {
				fmt.Printf("\nowner=%s target=%s value=%d rank=%d capacity=%d\n", sc.Owner, sc.Target, sc.Value, sc.Rank, sc.Capacity)
			}
		case "o":
			for _, own := range a.store.AllOwnIdentities() {
				fmt.Printf("\nID: %s\nInsertURI: %s\n", own.ID, own.InsertURI)
			}
		case "j":
			stats := a.engine.Stats()
			fmt.Printf("\nincremental updates: %d (%s total)\nfull recomputes: %d (%s total)\nqueue: %d pending, %d queued, %d deduplicated, %d failed, %d finished (%.2f/hr)\n",
				stats.IncrementalCount, stats.IncrementalDuration,
				stats.FullRecomputeCount, stats.FullRecomputeDuration,
				a.queue.Len(), a.queue.Stats.Queued, a.queue.Stats.Deduplicated, a.queue.Stats.Failed, a.queue.Stats.Finished, a.queue.Stats.AveragePerHour())
		case "c":
			fmt.Println("CURRENT CONFIG")
			for k, v := range actors.MakeOrGetConfig().AllSettings() {
				fmt.Printf("\nKey: %s; Value: %v\n", k, v)
			}
		}
	}
}
