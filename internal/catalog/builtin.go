package catalog

import "tdprio/internal/domain"

func td(spend, defined float64, lines int, debt, rem float64, id int) domain.TechDebtItem {
	return domain.TechDebtItem{
		Spend:           spend,
		Defined:         defined,
		LinesChanged:    lines,
		DebtMaintain:    debt,
		RemediationTime: rem,
		ID:              id,
	}
}

// anchorLast returns a copy of items with the final item as the anchor.
func anchorLast(items []domain.TechDebtItem) []domain.TechDebtItem {
	out := make([]domain.TechDebtItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].Last = i == len(out)-1
	}
	return out
}

func metrics(v ...float64) domain.ProjectMetrics {
	m, err := domain.MetricsFromValues(v)
	if err != nil {
		panic(err)
	}
	return m
}

func builtin() []Dataset {
	small := []domain.TechDebtItem{
		td(2, 3, 3, 3, 0, 1),
		td(1, 2, -2, 2, 0, 2),
		td(3, 3, 1, 0, 0, 3),
		td(2.5, 5, 3, 5, 0, 4),
		td(2.2, 4, 1, 0, 4, 5),
	}
	medium := append(append([]domain.TechDebtItem{}, small...),
		td(5, 10, 10, 0, 10, 6),
		td(1.3, 2, -2, 2, 0, 7),
		td(4.1, 3, 1, 3, 0, 8),
		td(2.5, 2, 3, 0, 2, 9),
		td(2.2, 6, 1, 0, 4, 10),
	)
	big := append(append([]domain.TechDebtItem{}, medium...),
		td(3.75, 3.5, 5, 0, 0, 11),
		td(2.51, 5.5, 2, 5.5, 0, 12),
		td(2.22, 4.5, 6, 0, 4.5, 13),
		td(2.21, 3.5, 7, 3.5, 0, 14),
		td(1.78, 2.5, -7, 2.5, 0, 15),
		td(3.63, 3.5, 1, 0, 0, 16),
		td(2.52, 5.5, 10, 5.5, 0, 17),
		td(2.28, 4.5, 1, 0, 4.5, 18),
	)
	return []Dataset{
		{
			Name: DefaultName,
			Items: anchorLast([]domain.TechDebtItem{
				td(1, 5, 0, 0, 0, 1),
				td(1, 1, -3, 1, 0, 2),
				td(1.5, 2, 1, 0, 2, 3),
				td(2, 5, 0, 5, 0, 4),
			}),
			Metrics: domain.ProjectMetrics{
				LinesOfCode: 224, Lines: 266, Statements: 85, Functions: 12, Classes: 4, Files: 8,
				Comments: 2, Cyclomatic: 19, Cognitive: 11, Issues: 4, DuplLines: 0, DuplBlocks: 0,
				DebtMaintain: 6, RateMaintain: 5, Vulnerabilities: 0, RateSec: 5, RemEffSec: 0,
				Bugs: 1, RateReliable: 3, RemEffRel: 2, NewLines: 0,
			},
		},
		{
			Name:    "small",
			Items:   anchorLast(small),
			Metrics: metrics(230, 283, 87, 13, 4, 8, 3, 20, 12, 5, 0, 0, 10, 4, 0, 5, 0, 1, 3, 4, 0),
		},
		{
			Name:    "medium",
			Items:   anchorLast(medium),
			Metrics: metrics(430, 483, 127, 20, 8, 11, 6, 25, 18, 10, 2, 0, 15, 3, 0, 5, 0, 4, 2, 20, 0),
		},
		{
			Name:    "big",
			Items:   anchorLast(big),
			Metrics: metrics(720, 797, 268, 32, 14, 16, 12, 55, 38, 18, 4, 0, 32, 2, 0, 5, 0, 6, 2, 29, 0),
		},
	}
}
