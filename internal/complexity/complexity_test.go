package complexity

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		latency float64
		label   string
	}{
		{"empty", "", LatencyNone, LabelNone},
		{"whitespace", "   \n\t ", LatencyNone, LabelNone},
		{"nine chars", "SELECT 1;", LatencyNone, LabelNone},
		{"ten chars", "SELECT 1 ;", LatencySimple, LabelSimple},
		{"where", "SELECT * FROM t WHERE x=1", LatencySimple, LabelSimple},
		{"order by once", "SELECT name FROM wines ORDER BY rating", LatencySimple, LabelSimple},
		{"limit", "SELECT name FROM wines LIMIT 10", LatencySimple, LabelSimple},
		{"fallback", "not really sql at all", LatencySimple, LabelSimple},
		{"join group by", "SELECT a, SUM(b) FROM t JOIN u ON t.id = u.id GROUP BY a", LatencyComplex, LabelComplex},
		{"single join", "SELECT * FROM t JOIN u ON t.id = u.id", LatencyComplex, LabelComplex},
		{"having", "SELECT a FROM t GROUP BY a HAVING a > 1", LatencyComplex, LabelComplex},
		{"distinct", "select distinct country from wines", LatencyComplex, LabelComplex},
		{"aggregate", "SELECT count(*) FROM wines", LatencyComplex, LabelComplex},
		{"two order by", "SELECT a FROM t ORDER BY a; SELECT b FROM u ORDER BY b", LatencyComplex, LabelComplex},
		{"two joins", "SELECT * FROM a JOIN b ON a.x=b.x JOIN c ON b.y=c.y", LatencyComplex, LabelComplex},
		{"cte", "WITH c AS (SELECT ...) SELECT * FROM c", LatencyVeryComplex, LabelVeryComplex},
		{"recursive cte", "with recursive tree(id) as (select 1) select * from tree", LatencyVeryComplex, LabelVeryComplex},
		{"window", "SELECT name, RANK() OVER (ORDER BY rating) FROM wines", LatencyVeryComplex, LabelVeryComplex},
		{"subquery", "SELECT * FROM wines WHERE id IN ( SELECT wine_id FROM awards)", LatencyVeryComplex, LabelVeryComplex},
		{"three joins", "SELECT * FROM a JOIN b ON 1=1 LEFT JOIN c ON 1=1 INNER JOIN d ON 1=1", LatencyVeryComplex, LabelVeryComplex},
		{"nested case", "SELECT CASE WHEN a THEN CASE WHEN b THEN 1 END ELSE 0 END FROM t", LatencyVeryComplex, LabelVeryComplex},
		{"sequential case", "SELECT CASE WHEN a THEN 1 END, CASE WHEN b THEN 2 END FROM t", LatencySimple, LabelSimple},
		{"union", "SELECT a FROM t UNION SELECT a FROM u", LatencyVeryComplex, LabelVeryComplex},
		{"except", "SELECT a FROM t EXCEPT SELECT a FROM u", LatencyVeryComplex, LabelVeryComplex},
		{"very complex beats complex", "SELECT a, COUNT(*) FROM t GROUP BY a UNION SELECT b, 1 FROM u", LatencyVeryComplex, LabelVeryComplex},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			latency, label := Classify(tt.sql)
			if latency != tt.latency || label != tt.label {
				t.Errorf("Classify(%q) = (%v, %q), want (%v, %q)", tt.sql, latency, label, tt.latency, tt.label)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	sql := "SELECT a, SUM(b) FROM t JOIN u ON t.id = u.id GROUP BY a"
	l1, lab1 := Classify(sql)
	for i := 0; i < 10; i++ {
		l2, lab2 := Classify(sql)
		if l1 != l2 || lab1 != lab2 {
			t.Fatalf("non-deterministic result on iteration %d", i)
		}
	}
}
