// beam.go - Gruppierte diverse Beam Search
//
// Dieses Modul enthaelt:
// - Candidate/GroupResult: Fortsetzungsvorschlaege eines Beam-Steps
// - BeamStep: Auswahl der besten Fortsetzungen je Beam-Gruppe
// - FinalScore: Laengennormierung fertiger Hypothesen
//
// Die Gruppen werden nacheinander verarbeitet; Tokens, die fruehere Gruppen
// im selben Step gewaehlt haben, werden mit der Diversity-Strafe belegt.
package sample

import (
	"math"
	"sort"

	"github.com/steinlabs/batchkv/api"
)

// Candidate ist eine vorgeschlagene Fortsetzung: Elternbeam, Token und der
// kumulierte Score des entstehenden Beams.
type Candidate struct {
	Parent  int
	Token   int
	LogProb float32
	Score   float32
}

// GroupResult buendelt die Fortsetzungen einer Beam-Gruppe. Running traegt
// genau beamsPerGroup Eintraege; Finished die in diesem Step mit EOS
// beendeten Hypothesen.
type GroupResult struct {
	Running  []Candidate
	Finished []Candidate
}

// BeamStep waehlt fuer jede Gruppe die besten Fortsetzungen. rows sind die
// Logit-Zeilen der laufenden Beams, cum deren kumulierte Log-
// Wahrscheinlichkeiten, histories die Token-Puffer. Beim ersten Step duerfen
// weniger Beams als konfiguriert laufen; die Gruppen teilen sich dann die
// vorhandenen Eltern.
func BeamStep(cfg api.GenerationConfig, rows [][]float32, cum []float32, histories [][]int, promptLen int) []GroupResult {
	numGroups := cfg.NumBeamGroups
	perGroup := cfg.NumBeams / numGroups
	vocab := len(rows[0])

	logProbs := make([][]float32, len(rows))
	for i, row := range rows {
		work := make([]float32, vocab)
		copy(work, row)
		generated := histories[i][promptLen:]
		ApplyPenalties(work, generated, cfg)
		BanRepeatNgrams(work, histories[i], cfg.NoRepeatNgramSize)
		if len(generated) < cfg.MinNewTokens && cfg.EOSTokenID >= 0 {
			BanToken(work, cfg.EOSTokenID)
		}
		logProbs[i] = LogSoftmax(work)
	}

	// parentsFor ordnet jeder Gruppe ihre Elternbeams zu. Laufen schon alle
	// NumBeams, gehoert jede Gruppe zu ihrem zusammenhaengenden Abschnitt.
	parentsFor := func(group int) []int {
		if len(rows) >= cfg.NumBeams {
			parents := make([]int, perGroup)
			for i := range parents {
				parents[i] = group*perGroup + i
			}
			return parents
		}
		parents := make([]int, 0, len(rows))
		for i := range rows {
			parents = append(parents, i)
		}
		return parents
	}

	chosen := make(map[int]int)
	results := make([]GroupResult, numGroups)
	for group := range numGroups {
		var cands []Candidate
		for _, parent := range parentsFor(group) {
			for v := range vocab {
				lp := logProbs[parent][v]
				if lp == negInf {
					continue
				}
				score := cum[parent] + lp
				if cfg.DiversityPenalty != 0 {
					score -= cfg.DiversityPenalty * float32(chosen[v])
				}
				cands = append(cands, Candidate{Parent: parent, Token: v, LogProb: lp, Score: score})
			}
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].Score > cands[b].Score })

		res := GroupResult{}
		for _, c := range cands {
			if len(res.Running) == perGroup {
				break
			}
			if cfg.EOSTokenID >= 0 && c.Token == cfg.EOSTokenID {
				if len(res.Finished) < perGroup {
					res.Finished = append(res.Finished, c)
				}
				continue
			}
			res.Running = append(res.Running, c)
		}
		for _, c := range res.Running {
			chosen[c.Token]++
		}
		results[group] = res
	}
	return results
}

// FinalScore normiert den kumulierten Score einer Hypothese mit der
// Laengenstrafe.
func FinalScore(cum float32, numGenerated int, lengthPenalty float32) float32 {
	if numGenerated <= 0 {
		return cum
	}
	norm := float32(1)
	if lengthPenalty != 0 {
		norm = float32(math.Pow(float64(numGenerated), float64(lengthPenalty)))
	}
	return cum / norm
}
