// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryRecordStore / RedisRecordStore: RateLimitRecord com versão otimista
//   - MemoryAppStore + LoadAppsFile: registry de apps a partir de YAML
//   - HTTPForwarder: reenvio de snapshots da fila para o backend
//   - PacerStore: espaçamento do drain por app usando golang.org/x/time/rate
//   - ChanPool / WeightedPool: semáforos para limite de concorrência
//   - MemoryStatsStore / RedisStatsStore: contadores de decisões
package infra
