package gateway

import (
	"encoding/json"
	"testing"
)

func arr(values ...Value) []Value { return values }

func TestMatch(t *testing.T) {
	cases := []struct {
		name      string
		stored    Params
		query     Params
		exclusive bool
		expected  bool
	}{
		// Empty stored params match anything.
		{"empty stored inclusive", Params{}, Params{"a": "1"}, false, true},
		{"empty stored exclusive", Params{}, Params{"a": "1"}, true, true},
		{"nil stored", nil, Params{"a": "1"}, false, true},

		// Scalar equality.
		{"scalar eq", Params{"jobId": "42"}, Params{"jobId": "42"}, false, true},
		{"scalar neq", Params{"jobId": "42"}, Params{"jobId": "99"}, false, false},
		{"number eq", Params{"n": float64(7)}, Params{"n": float64(7)}, false, true},
		{"number int vs float", Params{"n": 7}, Params{"n": float64(7)}, false, true},
		{"bool eq", Params{"done": true}, Params{"done": true}, false, true},
		{"bool neq", Params{"done": true}, Params{"done": false}, false, false},
		{"type mismatch", Params{"n": "7"}, Params{"n": float64(7)}, false, false},

		// Absent keys: don't-care inclusive, fail exclusive.
		{"absent key inclusive", Params{"a": "1", "b": "2"}, Params{"a": "1"}, false, true},
		{"absent key exclusive", Params{"a": "1", "b": "2"}, Params{"a": "1"}, true, false},
		{"all keys exclusive", Params{"a": "1", "b": "2"}, Params{"a": "1", "b": "2"}, true, true},

		// Extra query keys never hurt.
		{"extra query key", Params{"a": "1"}, Params{"a": "1", "z": "9"}, false, true},
		{"extra query key exclusive", Params{"a": "1"}, Params{"a": "1", "z": "9"}, true, true},

		// Stored array vs scalar query: membership.
		{"scalar in array", Params{"types": arr("A", "B")}, Params{"types": "A"}, false, true},
		{"scalar not in array", Params{"types": arr("A", "B")}, Params{"types": "C"}, false, false},

		// Stored array vs array query: full containment, not overlap.
		{"array subset", Params{"types": arr("A", "B")}, Params{"types": arr("A", "B", "C")}, false, true},
		{"array equal", Params{"types": arr("A", "B")}, Params{"types": arr("B", "A")}, false, true},
		{"array strict superset fails", Params{"types": arr("A", "B")}, Params{"types": arr("A")}, false, false},
		{"array disjoint", Params{"types": arr("A")}, Params{"types": arr("B")}, false, false},

		// Stored scalar vs array query: membership.
		{"stored scalar in query array", Params{"t": "A"}, Params{"t": arr("A", "B")}, false, true},
		{"stored scalar missing from query array", Params{"t": "C"}, Params{"t": arr("A", "B")}, false, false},

		// Mixed keys.
		{
			"mixed pass",
			Params{"jobId": "42", "types": arr("pdf", "docx")},
			Params{"jobId": "42", "types": "pdf", "status": "ok"},
			true,
			true,
		},
		{
			"mixed fail on one key",
			Params{"jobId": "42", "types": arr("pdf", "docx")},
			Params{"jobId": "42", "types": "png"},
			false,
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Match(tc.stored, tc.query, tc.exclusive)
			if got != tc.expected {
				t.Fatalf("Match(%v, %v, exclusive=%v) = %v, want %v",
					tc.stored, tc.query, tc.exclusive, got, tc.expected)
			}
		})
	}
}

// Exclusive matching must be strictly stronger than inclusive: whenever
// exclusive passes, inclusive passes too.
func TestMatchExclusiveImpliesInclusive(t *testing.T) {
	storedSets := []Params{
		{},
		{"a": "1"},
		{"a": "1", "b": float64(2)},
		{"types": arr("A", "B")},
		{"a": "1", "types": arr("A")},
	}
	querySets := []Params{
		{},
		{"a": "1"},
		{"a": "2", "b": float64(2)},
		{"a": "1", "b": float64(2), "types": arr("A", "B", "C")},
		{"types": "A"},
	}

	for _, stored := range storedSets {
		for _, query := range querySets {
			if Match(stored, query, true) && !Match(stored, query, false) {
				t.Fatalf("exclusive matched but inclusive did not: stored=%v query=%v", stored, query)
			}
		}
	}
}

func TestDecodeParams(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"empty", "", false},
		{"object", `{"jobId":"42","n":7,"ok":true}`, false},
		{"flat array value", `{"types":["A","B"]}`, false},
		{"mixed array value", `{"types":["A",1,true]}`, false},
		{"not an object", `["A"]`, true},
		{"nested array", `{"types":[["A"]]}`, true},
		{"nested object", `{"job":{"id":"42"}}`, true},
		{"null value", `{"jobId":null}`, true},
		{"object in array", `{"types":[{"a":1}]}`, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params, err := DecodeParams(json.RawMessage(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("DecodeParams(%s) succeeded, want error", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeParams(%s) failed: %v", tc.raw, err)
			}
			if tc.raw != "" && params == nil {
				t.Fatalf("DecodeParams(%s) returned nil params", tc.raw)
			}
		})
	}
}

func TestDecodeParamsBadRequestCode(t *testing.T) {
	_, err := DecodeParams(json.RawMessage(`{"a":{"nested":true}}`))
	gwErr, ok := err.(*GatewayError)
	if !ok {
		t.Fatalf("expected *GatewayError, got %T", err)
	}
	if gwErr.Code != CodeBadRequest {
		t.Fatalf("expected BadRequest code, got %d", gwErr.Code)
	}
}

func TestNormalizeCoercesInts(t *testing.T) {
	params, err := Params{"n": 7, "arr": []Value{1, "x"}}.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if _, ok := params["n"].(float64); !ok {
		t.Fatalf("expected int scalar coerced to float64, got %T", params["n"])
	}
	if !Match(params, Params{"n": float64(7)}, false) {
		t.Fatal("normalized int did not match float64 query")
	}
}
