// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

// Patterns run against the lowercased query, in order; the first match
// marks the query comprehensive. Order matters only for readability
// since any single match decides the outcome.
var defaultComprehensivePatterns = []string{
	// Document discovery (English)
	`tell me (all )?the documents?`,
	`what documents?`,
	`which documents?`,
	`find (all )?documents?`,
	`search for documents?`,
	`list (all )?documents?`,
	`show me (all )?documents?`,
	`get (all )?documents?`,

	// Term anchors (English)
	`contain(ing)?\s+`,
	`with\s+`,
	`that have\s+`,
	`that include\s+`,
	`mentioning\s+`,
	`referring to\s+`,

	// Brazilian tax identifiers next to their label
	`cnpj\s+[\d\./\-]+`,
	`cpf\s+[\d\.\-]+`,
	`[\d\./\-]+\s+cnpj`,
	`[\d\.\-]+\s+cpf`,

	// Comprehensive requests (Portuguese)
	`resumo\s+(completo|detalhado|integral|abrangente)`,
	`completo\s+por\s+se[cç][ãa]o`,
	`voce\s+tem\s+acesso\s+documento`,
	`tem\s+acesso\s+documento`,
	`acesso\s+documento`,
	`neste\s+documento`,
	`no\s+documento`,
	`do\s+documento`,
	`da\s+documento`,
	`fale mais sobre`,
	`me d[êe] mais detalhes sobre`,
	`explique (um pouco )?mais sobre`,
	`se aprofunde (mais )?nisso`,
	`elabore mais sobre (esse|o último) ponto`,
	`e sobre (o|a)`,

	// Clarification requests (Portuguese)
	`o que (exatamente )?significa`,
	`o que quer dizer`,
	`pode definir`,
	`o que é (esse|este) (termo|conceito|ponto)`,
	`defina (esse|este) (termo|conceito)`,
	`explique (esse|este) (termo|conceito)`,

	// Follow-ups referring back to earlier context (Portuguese)
	`\b(e|mas|então)\s+isso\b`,
	`\bdisso\b`,
	`\bnisso\b`,
	`explique (o|a) (primeiro|segundo|último) (ponto|item)`,
	`com base nisso`,
	`a partir disso`,
	`em relação a isso`,
	`sobre isso`,
	`quanto a isso`,
	`no que se refere a isso`,
	`analise\s+(completa|detalhada|integral|abrangente)`,
	`me\s+d[êe]\s+uma?\s+(resumo|analise)\s+(completo|completa|detalhado|detalhada)`,
	`me\s+mostre\s+(todos?|todas?|completo|completa)`,
	`me\s+explique\s+(todos?|todas?|completo|completa)`,
	`\bcompleto\b`,

	// Requests anchored on a named document (Portuguese)
	`com\s+base\s+(no|na)\s+documento\s+`,
	`basead[oa]\s+(no|na)\s+documento\s+`,
	`segundo\s+[oa]\s+documento\s+`,
	`conforme\s+[oa]\s+documento\s+`,
	`de\s+acordo\s+com\s+[oa]\s+documento\s+`,
	`apresentad[oa]s?\s+(no|na)\s+documento\s+`,
	`contid[oa]s?\s+(no|na)\s+documento\s+`,

	// Broad topical questions (Portuguese)
	`quais?\s+(as\s+)?principais?\s+(tend[eê]ncias?|caracter[ií]sticas?|aspectos?|pontos?)`,
	`qual\s+(o\s+)?(padr[aã]o|padr[oõ]es|modelos?|estruturas?)`,
	`o\s+que\s+é\s+`,
	`como\s+funciona\s+`,
	`explique\s+(o\s+)?(conceitos?|termos?|defini[cç][aã]o)`,
	`defina\s+(o\s+)?(conceitos?|termos?)`,
	`descreva\s+(as\s+)?(principais?|caracter[ií]sticas?|aspectos?|pontos?)`,
	`apresente\s+(as\s+)?(principais?|caracter[ií]sticas?|aspectos?|pontos?)`,
	`detalhe\s+(as\s+)?(principais?|caracter[ií]sticas?|aspectos?|pontos?)`,
	`me\s+(explique|conte|informe|mostre)\s+(sobre|acerca\s+de|a\s+respeito\s+de)`,
	`me\s+(d[êe]|forne[cç]a|apresente|descreva|detalhe)\s+(informa[cç][oõ]es?\s+)?(sobre|acerca\s+de|a\s+respeito\s+de)`,
	`me\s+(explique|conte|informe|mostre|d[êe]|forne[cç]a|apresente|descreva)\s+(o\s+)?(conte[uú]dos?|assuntos?)`,

	// Comprehensive requests (English)
	`give\s+me\s+(a\s+)?(complete|full|detailed|comprehensive)`,
	`show\s+me\s+(all|every|complete|full|detailed)`,
	`explain\s+(all|every|complete|full|detailed)`,
	`analyze\s+(all|every|complete|full|detailed)`,

	// Catch-all breadth markers
	`\b(all|every|full|total|comprehensive)\b`,
	`\b(todos?|todas?|total|integral|integralmente)\b`,
	`\b(detalhad[oa](mente)?|minucios[oa])\b`,
	`\b(abrangente|extens[oa]|profund[oa])\b`,
}

// rawTermPattern pairs an extraction pattern with the 1-based submatch
// index that carries the search term.
type rawTermPattern struct {
	pattern string
	group   int
}

var defaultTermPatterns = []rawTermPattern{
	// English anchors
	{`containing\s+([^\s,]+)`, 1},
	{`with\s+([^\s,]+)`, 1},
	{`that have\s+([^\s,]+)`, 1},
	{`mentioning\s+([^\s,]+)`, 1},

	// Portuguese anchors
	{`contendo\s+([^\s,]+)`, 1},
	{`com\s+([^\s,]+)`, 1},
	{`mencionando\s+([^\s,]+)`, 1},
	{`documento\s+([^?]+)`, 1},
	{`no\s+documento\s+([^?]+)`, 1},
	{`do\s+documento\s+([^?]+)`, 1},
	{`da\s+documento\s+([^?]+)`, 1},

	// Named-document phrasings where the document name is the second
	// capture group.
	{`com\s+base\s+(no|na)\s+documento\s+([^?]+)`, 2},
	{`basead[oa]\s+(no|na)\s+documento\s+([^?]+)`, 2},
	{`apresentad[oa]s?\s+(no|na)\s+documento\s+([^?]+)`, 2},
	{`contid[oa]s?\s+(no|na)\s+documento\s+([^?]+)`, 2},
	{`segundo\s+(o|a)\s+documento\s+([^?]+)`, 2},
	{`conforme\s+(o|a)\s+documento\s+([^?]+)`, 2},
	{`de\s+acordo\s+com\s+(o|a)\s+documento\s+([^?]+)`, 2},

	// Verb phrases where the term trails a connective
	{`que\s+(tem|tenha|inclui|inclua)\s+([^\s,]+)`, 2},
	{`falando\s+(sobre|de)\s+([^\s,]+)`, 2},
	{`resumo\s+(de|sobre)\s+([^\s,]+)`, 2},
	{`analise\s+(de|sobre)\s+([^\s,]+)`, 2},
}
