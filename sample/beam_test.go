// beam_test.go - Unit Tests fuer die gruppierte Beam Search
package sample

import (
	"testing"

	"github.com/steinlabs/batchkv/api"
)

func beamCfg(numBeams, numGroups int) api.GenerationConfig {
	cfg := api.NewGenerationConfig()
	cfg.NumBeams = numBeams
	cfg.NumBeamGroups = numGroups
	return cfg
}

// TestBeamStepSelectsBest testet die Auswahl der besten Fortsetzungen
func TestBeamStepSelectsBest(t *testing.T) {
	cfg := beamCfg(2, 1)
	rows := [][]float32{{0, 1, 2, 3}}
	res := BeamStep(cfg, rows, []float32{0}, [][]int{{5}}, 1)

	if len(res) != 1 || len(res[0].Running) != 2 {
		t.Fatalf("BeamStep() = %d Gruppen mit %d Beams, erwartet 1 Gruppe mit 2",
			len(res), len(res[0].Running))
	}
	first, second := res[0].Running[0], res[0].Running[1]
	if first.Token != 3 || second.Token != 2 {
		t.Errorf("Tokens = (%d, %d), erwartet (3, 2)", first.Token, second.Token)
	}
	if first.Parent != 0 || second.Parent != 0 {
		t.Errorf("Parents = (%d, %d), erwartet (0, 0)", first.Parent, second.Parent)
	}
	if first.Score <= second.Score {
		t.Errorf("Scores = (%g, %g), erwartet absteigend", first.Score, second.Score)
	}
	if first.Score != first.LogProb {
		t.Errorf("Score = %g, erwartet LogProb %g bei cum = 0", first.Score, first.LogProb)
	}
}

// TestBeamStepEOSMovesToFinished testet die Trennung fertiger Hypothesen
func TestBeamStepEOSMovesToFinished(t *testing.T) {
	cfg := beamCfg(2, 1)
	cfg.EOSTokenID = 3
	rows := [][]float32{{0, 1, 2, 3}}
	res := BeamStep(cfg, rows, []float32{0}, [][]int{{5}}, 1)

	if len(res[0].Finished) != 1 || res[0].Finished[0].Token != 3 {
		t.Fatalf("Finished = %+v, erwartet genau die EOS-Hypothese", res[0].Finished)
	}
	if len(res[0].Running) != 2 ||
		res[0].Running[0].Token != 2 || res[0].Running[1].Token != 1 {
		t.Errorf("Running = %+v, erwartet Tokens 2 und 1", res[0].Running)
	}
}

// TestBeamStepDiversityPenalty testet die Strafe auf Tokens frueherer Gruppen
func TestBeamStepDiversityPenalty(t *testing.T) {
	cfg := beamCfg(2, 2)
	cfg.DiversityPenalty = 10
	rows := [][]float32{{0, 1, 2, 3}}
	res := BeamStep(cfg, rows, []float32{0}, [][]int{{5}}, 1)

	if len(res) != 2 || len(res[0].Running) != 1 || len(res[1].Running) != 1 {
		t.Fatalf("BeamStep() = %+v, erwartet zwei Gruppen mit je einem Beam", res)
	}
	if res[0].Running[0].Token != 3 {
		t.Errorf("Gruppe 0 Token = %d, erwartet 3", res[0].Running[0].Token)
	}
	if res[1].Running[0].Token != 2 {
		t.Errorf("Gruppe 1 Token = %d, erwartet 2: Token 3 ist bestraft",
			res[1].Running[0].Token)
	}
}

// TestFinalScore testet die Laengennormierung
func TestFinalScore(t *testing.T) {
	if got := FinalScore(-6, 3, 1); got != -2 {
		t.Errorf("FinalScore(-6, 3, 1) = %g, erwartet -2", got)
	}
	if got := FinalScore(-6, 3, 0); got != -6 {
		t.Errorf("FinalScore(-6, 3, 0) = %g, erwartet -6", got)
	}
	if got := FinalScore(-6, 0, 1); got != -6 {
		t.Errorf("FinalScore(-6, 0, 1) = %g, erwartet -6", got)
	}
	if got := FinalScore(-6, 3, 2); !approx(got, -6.0/9.0) {
		t.Errorf("FinalScore(-6, 3, 2) = %g, erwartet %g", got, -6.0/9.0)
	}
}
