package assist

import "fmt"

// schemaSystemDirective instructs the model to discover table metadata via
// the query tool. The introspection statement is spelled out so the model
// does not improvise its own catalog queries.
const schemaSystemDirective = `You are inspecting a PostgreSQL database.
Use the query tool with the following SQL to look up table metadata:

SELECT
    t.table_name,
    c.column_name,
    c.data_type,
    c.is_nullable
FROM
    information_schema.tables t
    JOIN information_schema.columns c ON t.table_name = c.table_name
WHERE
    t.table_schema = 'public'
ORDER BY
    t.table_name,
    c.ordinal_position;

Always return results as a JSON array.`

// schemaUserText frames the user's request for the discovery conversation.
func schemaUserText(request string) string {
	return fmt.Sprintf("Look up the table structures relevant to this request: %s", request)
}

// conductorSystemDirective embeds the resolved schema description and
// constrains generation to a single executable SELECT statement.
func conductorSystemDirective(schemaInfo string) string {
	return fmt.Sprintf(`The following table structures are relevant to the request:

%s

Using the table structures above, generate a SQL SELECT query that satisfies the user's request.
The generated query must be executable as-is.
Use literal placeholder values in WHERE clauses and other conditions (for example id = '123' or date = '2024-03-21').
Do not generate CREATE or INSERT statements; write SELECT statements only.
Always return results as a JSON array.`, schemaInfo)
}
