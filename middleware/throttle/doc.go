// Package throttle fornece o adapter HTTP (net/http) para o throttle.
//
// Visão geral (camadas):
//
//   - domain: contratos, estado, políticas e a regra de decisão (sem net/http)
//   - application: caso de uso (decisão + fail-open/closed + estatísticas) sem net/http
//   - infra: implementações concretas (manager local, manager Redis com script Lua, stats)
//   - throttle (este pacote): middleware HTTP + extração de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (IP/header/XFF) e monta o nome NamePrefix+chave
//  2. Pede ao Manager um throttle para o nome e a política configurada
//  3. Chama a camada application para obter a decisão
//  4. Se negado, responde 429 com Retry-After; se o store caiu, 503 (ou passa, com FailOpen)
//  5. Se admitido, chama o próximo handler (ex: reverse proxy)
//
// A configuração do binário gateway (cmd/gateway) vem de internal/config, via
// arquivo YAML ou variáveis THROTTLE_*.
package throttle
