// Package expr вычисляет условия переходов.
//
// Движок зависит только от интерфейса Evaluator: "вычислить выражение E
// в контексте переменных C → значение". Реализация по умолчанию —
// HCL-выражения (hclsyntax) над переменными процесса, сконвертированными
// в cty-значения.
//
// Вычисление чистое: в рамках одного прохода выбора переходов выражение
// не имеет побочных эффектов.
package expr
