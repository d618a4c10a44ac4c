package patterns

import (
	"sort"
	"strings"
)

// AssociationRule is a mined antecedent => consequent rule with its metrics
type AssociationRule struct {
	Conditions []string `json:"conditions"`
	Result     []string `json:"result"`
	Support    float64  `json:"support"`
	Confidence float64  `json:"confidence"`
	Lift       float64  `json:"lift"`
}

// itemset is a canonical sorted key for a set of items
func itemsetKey(items []string) string {
	sorted := make([]string, len(items))
	copy(sorted, items)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func splitKey(key string) []string {
	return strings.Split(key, "\x00")
}

// mineFrequentItemsets runs level-wise Apriori over the transactions and
// returns itemset support keyed by the canonical itemset string
func mineFrequentItemsets(transactions [][]string, minSupport float64) map[string]float64 {
	n := len(transactions)
	if n == 0 {
		return nil
	}

	// Transactions as sets for fast membership checks
	txSets := make([]map[string]bool, n)
	for i, tx := range transactions {
		set := make(map[string]bool, len(tx))
		for _, item := range tx {
			set[item] = true
		}
		txSets[i] = set
	}

	support := func(items []string) float64 {
		count := 0
		for _, set := range txSets {
			ok := true
			for _, item := range items {
				if !set[item] {
					ok = false
					break
				}
			}
			if ok {
				count++
			}
		}
		return float64(count) / float64(n)
	}

	frequent := make(map[string]float64)

	// Level 1: frequent single items
	seen := make(map[string]bool)
	var level [][]string
	for _, tx := range transactions {
		for _, item := range tx {
			if seen[item] {
				continue
			}
			seen[item] = true
			if s := support([]string{item}); s >= minSupport {
				frequent[item] = s
				level = append(level, []string{item})
			}
		}
	}
	sort.Slice(level, func(i, j int) bool { return level[i][0] < level[j][0] })

	// Higher levels: join candidates sharing a prefix, prune by support
	for len(level) > 0 {
		var next [][]string
		for i := 0; i < len(level); i++ {
			for j := i + 1; j < len(level); j++ {
				a, b := level[i], level[j]
				k := len(a)
				// Join only sets sharing the first k-1 items
				joinable := true
				for x := 0; x < k-1; x++ {
					if a[x] != b[x] {
						joinable = false
						break
					}
				}
				if !joinable {
					continue
				}
				candidate := make([]string, k+1)
				copy(candidate, a)
				candidate[k] = b[k-1]
				sort.Strings(candidate)

				key := itemsetKey(candidate)
				if _, done := frequent[key]; done {
					continue
				}
				if s := support(candidate); s >= minSupport {
					frequent[key] = s
					next = append(next, candidate)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool {
			return itemsetKey(next[i]) < itemsetKey(next[j])
		})
		level = next
	}

	return frequent
}

// mineAssociationRules derives rules from frequent itemsets, keeping those
// meeting the confidence floor
func mineAssociationRules(transactions [][]string, minSupport, minConfidence float64) []AssociationRule {
	frequent := mineFrequentItemsets(transactions, minSupport)
	if len(frequent) == 0 {
		return nil
	}

	var rules []AssociationRule
	for key, itemSupport := range frequent {
		items := splitKey(key)
		if len(items) < 2 {
			continue
		}

		// Every non-empty proper subset as antecedent
		for mask := 1; mask < (1<<len(items))-1; mask++ {
			var antecedent, consequent []string
			for bit, item := range items {
				if mask&(1<<bit) != 0 {
					antecedent = append(antecedent, item)
				} else {
					consequent = append(consequent, item)
				}
			}

			antSupport, ok := frequent[itemsetKey(antecedent)]
			if !ok || antSupport == 0 {
				continue
			}
			confidence := itemSupport / antSupport
			if confidence < minConfidence {
				continue
			}

			lift := 0.0
			if conSupport, ok := frequent[itemsetKey(consequent)]; ok && conSupport > 0 {
				lift = confidence / conSupport
			}

			rules = append(rules, AssociationRule{
				Conditions: antecedent,
				Result:     consequent,
				Support:    itemSupport,
				Confidence: confidence,
				Lift:       lift,
			})
		}
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Confidence != rules[j].Confidence {
			return rules[i].Confidence > rules[j].Confidence
		}
		return itemsetKey(rules[i].Conditions) < itemsetKey(rules[j].Conditions)
	})

	return rules
}
