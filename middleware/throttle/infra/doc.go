// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - LocalManager: estado por nome em memória, com janitor para nomes ociosos
//   - RedisManager: estado num hash Redis, decisão atômica via script Lua
//   - MemoryStatsStore / RedisStatsStore / PrometheusMetrics: estatísticas das decisões
package infra
