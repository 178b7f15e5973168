// Package domain define contratos e tipos de domínio do throttle.
//
// Aqui ficam o estado mínimo (State), as políticas (por tempo e por contagem),
// a regra de decisão pura e os erros. Este pacote não depende de net/http,
// Redis nem de qualquer implementação concreta: as variantes local e
// distribuída vivem em infra e aplicam exatamente a mesma regra.
package domain
