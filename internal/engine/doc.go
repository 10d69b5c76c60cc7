// Package engine содержит ядро исполнения шлюзов и переходов.
//
// Включает:
//   - graph.go    — граф процесса: валидация определения, производные
//     входящие переходы, достижимость
//   - selector.go — выбор исходящих переходов (exclusive/inclusive/parallel)
//   - merge.go    — координация слияния шлюзов (hit-счётчики по поколениям)
//   - branch.go   — отслеживание живых и мёртвых веток
//
// Engine отвечает за решения "какие переходы активировать" и "когда шлюз
// собрал достаточно прибытий". Само создание экземпляров узлов и
// персистентность — обязанность оркестратора.
package engine
